package providers

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	NameGNews = "GNews"

	gnewsBaseURL  = "https://gnews.io/api/v4/search"
	gnewsPageSize = 100
	gnewsMaxPages = 10
	gnewsFrom     = "2020-01-01T00:00:00.000Z"
)

// GNewsConfig configures the GNews provider.
type GNewsConfig struct {
	BaseURL  string
	Token    string
	Language string
	MaxPages int
}

// GNews searches gnews.io v4 with offset paging.
type GNews struct {
	tracker
	cfg    GNewsConfig
	client *Client
}

// NewGNews builds the provider.
func NewGNews(cfg GNewsConfig, client *Client) *GNews {
	if cfg.BaseURL == "" {
		cfg.BaseURL = gnewsBaseURL
	}

	if cfg.Language == "" {
		cfg.Language = "en"
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = gnewsMaxPages
	}

	return &GNews{tracker: newTracker(), cfg: cfg, client: client}
}

func (g *GNews) Name() string { return NameGNews }

type gnewsResponse struct {
	Errors   json.RawMessage `json:"errors"`
	Message  string          `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (g *GNews) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	if g.cfg.Token == "" {
		return nil, apperrors.ErrClientDisabled
	}

	start := 0
	if next := g.startKeyword(keyword); next != "" {
		if n, err := strconv.Atoi(next); err == nil && n > 0 {
			start = n
		}
	}

	query := phrase(keyword) + " AND " + orGroup(securityTerms, " OR ")

	var out []domain.Observation

	for page := 0; page < g.cfg.MaxPages; page++ {
		params := url.Values{
			"q":      {query},
			"max":    {strconv.Itoa(gnewsPageSize)},
			"start":  {strconv.Itoa(start)},
			"lang":   {g.cfg.Language},
			"token":  {g.cfg.Token},
			"in":     {"title,description,content"},
			"sortby": {"relevance"},
			"from":   {gnewsFrom},
		}

		var resp gnewsResponse
		if err := g.client.GetJSON(ctx, NameGNews, g.cfg.BaseURL, params, nil, &resp); err != nil {
			g.next = strconv.Itoa(start)
			return out, err
		}

		if msg := gnewsErrorMessage(resp); msg != "" {
			if mentionsQuota(msg) {
				g.next = strconv.Itoa(start)
				return out, &apperrors.ProviderError{Provider: NameGNews, Kind: apperrors.KindRateLimited, Message: msg}
			}

			break
		}

		if len(resp.Articles) == 0 {
			break
		}

		for _, a := range resp.Articles {
			u := clean(a.URL)
			if u == "" || !g.markNew(urlID(u)) {
				continue
			}

			out = append(out, domain.Observation{
				Title:   clean(a.Title),
				URL:     u,
				Summary: clean(a.Description),
				RawDate: clean(a.PublishedAt),
				Source:  domain.Source{Provider: NameGNews, Method: clean(a.Source.Name)},
			})
		}

		start += len(resp.Articles)
	}

	g.next = ""

	return out, nil
}

// gnewsErrorMessage flattens the "errors" field (a list or an object) and
// the top-level message.
func gnewsErrorMessage(resp gnewsResponse) string {
	parts := make([]string, 0, 2)
	if resp.Message != "" {
		parts = append(parts, resp.Message)
	}

	if len(resp.Errors) > 0 && string(resp.Errors) != "null" {
		parts = append(parts, string(resp.Errors))
	}

	return strings.Join(parts, "; ")
}
