package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMinInterval      = time.Second
	defaultRetryDelay       = 1100 * time.Millisecond
	defaultServerRetries    = 3
	defaultAcceptedRetries  = 3
	defaultAcceptedDelay    = 10 * time.Second
	defaultCooldownAfter    = 2
	defaultCooldown         = 10 * time.Minute
	defaultUserAgent        = "incident-crawler/1.0"
	maxResponseBody         = 20 * 1024 * 1024
	previewLen              = 200
	headerContentType       = "Content-Type"
	headerRetryAfter        = "Retry-After"
	headerUserAgent         = "User-Agent"
	contentTypeJSON         = "json"
	logFieldHost            = "host"
	logFieldStatus          = "status"
	msgNonJSONRetry         = "non-JSON response, retrying once"
	msgCooldown             = "consecutive blocks, cooling down host"
	errFmtStatus            = "HTTP %d"
	errFmtStatusWithPreview = "HTTP %d: %s"
	gdeltHost               = "api.gdeltproject.org"
)

// gdeltBadQuery are the plain-text answers GDELT gives to a rejected query.
var gdeltBadQuery = []string{
	"your query was too short or too long",
	"the specified phrase is too short",
	"invalid query",
}

// ClientConfig tunes the shared HTTP client.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string

	// MinInterval is the minimum spacing between requests to a host.
	MinInterval     map[string]time.Duration
	DefaultInterval time.Duration

	// RetryDelay is the pause before re-asking after a non-JSON answer.
	RetryDelay time.Duration

	ServerRetries   int
	ServerBackoff   time.Duration
	AcceptedRetries int
	AcceptedDelay   time.Duration

	// CooldownAfter consecutive blocks pause the host for Cooldown.
	CooldownAfter int
	Cooldown      time.Duration
}

// DefaultMinIntervals are the per-host request spacings of the public APIs.
func DefaultMinIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		"gnews.io":                time.Second,
		"newsapi.org":             time.Second,
		gdeltHost:                 time.Second,
		"news.google.com":         time.Second,
		"api.semanticscholar.org": time.Second,
		"api.openalex.org":        200 * time.Millisecond,
		"export.arxiv.org":        3 * time.Second,
		"services.nvd.nist.gov":   6 * time.Second,
	}
}

func (c *ClientConfig) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	if c.DefaultInterval <= 0 {
		c.DefaultInterval = defaultMinInterval
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}

	if c.ServerRetries < 0 {
		c.ServerRetries = 0
	} else if c.ServerRetries == 0 {
		c.ServerRetries = defaultServerRetries
	}

	if c.ServerBackoff <= 0 {
		c.ServerBackoff = time.Second
	}

	if c.AcceptedRetries == 0 {
		c.AcceptedRetries = defaultAcceptedRetries
	}

	if c.AcceptedDelay <= 0 {
		c.AcceptedDelay = defaultAcceptedDelay
	}

	if c.CooldownAfter <= 0 {
		c.CooldownAfter = defaultCooldownAfter
	}

	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
}

type hostState struct {
	limiter       *rate.Limiter
	blocks        int
	cooldownUntil time.Time
}

// Client is the HTTP helper shared by every provider: per-host spacing,
// Retry-After handling and failure classification.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	mu     sync.Mutex
	hosts  map[string]*hostState
	logger *zerolog.Logger
}

// NewClient builds a client.
func NewClient(cfg ClientConfig, logger *zerolog.Logger) *Client {
	cfg.withDefaults()

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		hosts:  make(map[string]*hostState),
		logger: logger,
	}
}

func (c *Client) host(h string) *hostState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.hosts[h]
	if !ok {
		interval, found := c.cfg.MinInterval[h]
		if !found {
			interval = c.cfg.DefaultInterval
		}

		st = &hostState{limiter: rate.NewLimiter(rate.Every(interval), 1)}
		c.hosts[h] = st
	}

	return st
}

type response struct {
	status      int
	contentType string
	retryAfter  string
	body        []byte
}

// GetJSON fetches rawURL with params and decodes a JSON answer into out.
// Failures come back as *errors.ProviderError of one of the four kinds.
func (c *Client) GetJSON(ctx context.Context, provider, rawURL string, params url.Values, headers http.Header, out any) error {
	target, h, err := buildURL(rawURL, params)
	if err != nil {
		return apperrors.NewProviderError(provider, apperrors.KindMalformedQuery, "bad request URL", err)
	}

	resp, err := c.fetch(ctx, provider, h, target, headers)
	if err != nil {
		return err
	}

	if !isJSON(resp.contentType) {
		c.logger.Warn().Str(logFieldHost, h).Int(logFieldStatus, resp.status).Str("preview", preview(resp.body)).Msg(msgNonJSONRetry)

		if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
			return err
		}

		resp, err = c.fetch(ctx, provider, h, target, headers)
		if err != nil {
			return err
		}

		if !isJSON(resp.contentType) {
			body := strings.ToLower(preview(resp.body))
			if (provider == NameGDELT || h == gdeltHost) && containsAny(body, gdeltBadQuery) {
				return &apperrors.ProviderError{Provider: provider, Kind: apperrors.KindMalformedQuery, Message: "GDELT bad query", StatusCode: resp.status}
			}

			c.noteBlock(h)

			return &apperrors.ProviderError{
				Provider:   provider,
				Kind:       apperrors.KindBlocked,
				Message:    fmt.Sprintf("repeated non-JSON response (status %d)", resp.status),
				StatusCode: resp.status,
			}
		}
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		c.noteBlock(h)
		return apperrors.NewProviderError(provider, apperrors.KindNetwork, "invalid JSON: "+preview(resp.body), err)
	}

	c.noteSuccess(h)

	return nil
}

// GetBody fetches rawURL and returns the raw body. It applies the same
// spacing, 429 and transport classification as GetJSON but no content check.
func (c *Client) GetBody(ctx context.Context, provider, rawURL string, params url.Values, headers http.Header) ([]byte, error) {
	target, h, err := buildURL(rawURL, params)
	if err != nil {
		return nil, apperrors.NewProviderError(provider, apperrors.KindMalformedQuery, "bad request URL", err)
	}

	resp, err := c.fetch(ctx, provider, h, target, headers)
	if err != nil {
		return nil, err
	}

	if resp.status >= http.StatusBadRequest {
		c.noteBlock(h)

		return nil, &apperrors.ProviderError{
			Provider:   provider,
			Kind:       apperrors.KindBlocked,
			Message:    fmt.Sprintf(errFmtStatusWithPreview, resp.status, preview(resp.body)),
			StatusCode: resp.status,
		}
	}

	c.noteSuccess(h)

	return resp.body, nil
}

// Blocked records a block detected by the caller, e.g. an unparseable feed.
func (c *Client) Blocked(rawURL string) {
	if u, err := url.Parse(rawURL); err == nil {
		c.noteBlock(strings.ToLower(u.Host))
	}
}

// fetch performs one logical request: waits for the host, retries 5xx and
// 202 answers, and classifies 429 and transport failures.
func (c *Client) fetch(ctx context.Context, provider, h, target string, headers http.Header) (*response, error) {
	serverTries, acceptedTries := 0, 0

	for {
		resp, err := c.once(ctx, h, target, headers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, apperrors.NewProviderError(provider, apperrors.KindNetwork, "request failed", err)
		}

		switch {
		case resp.status == http.StatusTooManyRequests:
			c.slowDown(h, resp.retryAfter)

			return nil, &apperrors.ProviderError{
				Provider:   provider,
				Kind:       apperrors.KindRateLimited,
				Message:    "HTTP 429 Too Many Requests",
				StatusCode: resp.status,
			}
		case resp.status == http.StatusAccepted && acceptedTries < c.cfg.AcceptedRetries:
			acceptedTries++

			if err := sleepCtx(ctx, c.cfg.AcceptedDelay); err != nil {
				return nil, err
			}

			continue
		case resp.status == http.StatusAccepted:
			return nil, &apperrors.ProviderError{Provider: provider, Kind: apperrors.KindNetwork, Message: "persistent 202 Accepted", StatusCode: resp.status}
		case resp.status >= http.StatusInternalServerError && serverTries < c.cfg.ServerRetries:
			if err := sleepCtx(ctx, c.cfg.ServerBackoff<<serverTries); err != nil {
				return nil, err
			}

			serverTries++

			continue
		case resp.status >= http.StatusInternalServerError:
			return nil, &apperrors.ProviderError{
				Provider:   provider,
				Kind:       apperrors.KindNetwork,
				Message:    fmt.Sprintf(errFmtStatus, resp.status),
				StatusCode: resp.status,
			}
		}

		return resp, nil
	}
}

func (c *Client) once(ctx context.Context, h, target string, headers http.Header) (*response, error) {
	st := c.host(h)

	c.mu.Lock()
	until := st.cooldownUntil
	c.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}

	if err := st.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if req.Header.Get(headerUserAgent) == "" {
		req.Header.Set(headerUserAgent, c.cfg.UserAgent)
	}

	start := time.Now()

	resp, err := c.http.Do(req)

	observability.ProviderRequestDuration.WithLabelValues(h).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &response{
		status:      resp.StatusCode,
		contentType: strings.ToLower(resp.Header.Get(headerContentType)),
		retryAfter:  resp.Header.Get(headerRetryAfter),
		body:        body,
	}, nil
}

// slowDown widens the host spacing to at least the Retry-After seconds.
func (c *Client) slowDown(h, retryAfter string) {
	secs, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || secs <= 0 {
		return
	}

	st := c.host(h)
	wanted := rate.Every(time.Duration(secs) * time.Second)

	if wanted < st.limiter.Limit() {
		st.limiter.SetLimit(wanted)
	}
}

func (c *Client) noteBlock(h string) {
	st := c.host(h)

	c.mu.Lock()
	defer c.mu.Unlock()

	st.blocks++
	if st.blocks >= c.cfg.CooldownAfter {
		st.cooldownUntil = time.Now().Add(c.cfg.Cooldown)
		st.blocks = 0

		c.logger.Warn().Str(logFieldHost, h).Dur("cooldown", c.cfg.Cooldown).Msg(msgCooldown)
	}
}

func (c *Client) noteSuccess(h string) {
	st := c.host(h)

	c.mu.Lock()
	st.blocks = 0
	c.mu.Unlock()
}

func buildURL(rawURL string, params url.Values) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}

	if u.Host == "" {
		return "", "", errors.New("url without host")
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}

		u.RawQuery = q.Encode()
	}

	return u.String(), strings.ToLower(u.Host), nil
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, contentTypeJSON)
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > previewLen {
		s = s[:previewLen]
	}

	return strings.ReplaceAll(s, "\n", " ")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}

	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
