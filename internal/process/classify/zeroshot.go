package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	defaultHypothesisTemplate = "This article is about {}."
	defaultZeroShotTimeout    = 30 * time.Second
	defaultZeroShotRetries    = 5
	defaultZeroShotRetryDelay = 5 * time.Second
	maxErrorBody              = 512
)

// HTTPZeroShotConfig configures one hosted zero-shot model.
type HTTPZeroShotConfig struct {
	Name       string
	Endpoint   string // e.g. https://api-inference.huggingface.co/models/facebook/bart-large-mnli
	Token      string
	Retries    int
	RetryDelay time.Duration
	RPS        float64
}

// HTTPZeroShot calls a Hugging Face style zero-shot classification endpoint
// in multi-label mode.
type HTTPZeroShot struct {
	cfg     HTTPZeroShotConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPZeroShot builds a scorer. A zero RPS disables client-side limiting.
func NewHTTPZeroShot(cfg HTTPZeroShotConfig) *HTTPZeroShot {
	if cfg.Retries <= 0 {
		cfg.Retries = defaultZeroShotRetries
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultZeroShotRetryDelay
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &HTTPZeroShot{
		cfg:     cfg,
		http:    &http.Client{Timeout: defaultZeroShotTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name implements ModelScorer.
func (z *HTTPZeroShot) Name() string {
	return z.cfg.Name
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	MultiLabel         bool     `json:"multi_label"`
	HypothesisTemplate string   `json:"hypothesis_template"`
}

type zeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Score implements ModelScorer. Transient failures (429, 5xx, empty body) are
// retried up to the configured count.
func (z *HTTPZeroShot) Score(ctx context.Context, text string, labels []string) ([]domain.LabelScore, error) {
	body, err := json.Marshal(zeroShotRequest{
		Inputs: text,
		Parameters: zeroShotParameters{
			CandidateLabels:    labels,
			MultiLabel:         true,
			HypothesisTemplate: defaultHypothesisTemplate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal zero-shot request: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt < z.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, z.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		scores, retry, err := z.try(ctx, body)
		if err == nil {
			return scores, nil
		}

		lastErr = err
		if !retry {
			break
		}
	}

	return nil, fmt.Errorf("zero-shot %s: %w", z.cfg.Name, lastErr)
}

func (z *HTTPZeroShot) try(ctx context.Context, body []byte) ([]domain.LabelScore, bool, error) {
	if err := z.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if z.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+z.cfg.Token)
	}

	resp, err := z.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read body: %w", apperrors.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: status %d", apperrors.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(data))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(data))
	case len(bytes.TrimSpace(data)) == 0:
		return nil, true, apperrors.ErrEmptyResponse
	}

	scores, err := decodeZeroShot(data)
	if err != nil {
		return nil, true, err
	}

	return scores, false, nil
}

// decodeZeroShot accepts both the {labels, scores} object and the
// [{label, score}] list shapes.
func decodeZeroShot(data []byte) ([]domain.LabelScore, error) {
	var obj zeroShotResponse
	if err := json.Unmarshal(data, &obj); err == nil && len(obj.Labels) > 0 {
		if len(obj.Labels) != len(obj.Scores) {
			return nil, fmt.Errorf("zero-shot response has %d labels and %d scores", len(obj.Labels), len(obj.Scores))
		}

		out := make([]domain.LabelScore, len(obj.Labels))
		for i := range obj.Labels {
			out[i] = domain.LabelScore{Label: obj.Labels[i], Score: obj.Scores[i]}
		}

		return sortScores(out), nil
	}

	var list []domain.LabelScore
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode zero-shot response: %w", err)
	}

	if len(list) == 0 {
		return nil, apperrors.ErrEmptyResponse
	}

	return sortScores(list), nil
}

func sortScores(s []domain.LabelScore) []domain.LabelScore {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Score > s[j].Score })
	return s
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}

	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
