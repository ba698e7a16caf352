package providers

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	NameNewsAPI = "NewsAPI"

	newsAPIBaseURL  = "https://newsapi.org/v2/everything"
	newsAPIPageSize = 100
	newsAPIHardCap  = 100
	newsAPILookback = 28 * 24 * time.Hour
)

// NewsAPIConfig configures the NewsAPI provider.
type NewsAPIConfig struct {
	BaseURL  string
	APIKey   string
	Language string
	Now      func() time.Time
}

// NewsAPI searches newsapi.org /v2/everything. The free tier caps results at
// one hundred and looks back four weeks.
type NewsAPI struct {
	tracker
	cfg    NewsAPIConfig
	client *Client
}

// NewNewsAPI builds the provider.
func NewNewsAPI(cfg NewsAPIConfig, client *Client) *NewsAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = newsAPIBaseURL
	}

	if cfg.Language == "" {
		cfg.Language = "en"
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &NewsAPI{tracker: newTracker(), cfg: cfg, client: client}
}

func (n *NewsAPI) Name() string { return NameNewsAPI }

type newsAPIResponse struct {
	Status       string `json:"status"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *NewsAPI) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	if n.cfg.APIKey == "" {
		return nil, apperrors.ErrClientDisabled
	}

	page := 1
	if next := n.startKeyword(keyword); next != "" {
		if p, err := strconv.Atoi(next); err == nil && p > 0 {
			page = p
		}
	}

	query := phrase(keyword) + " AND " + orGroup(securityTerms, " OR ")
	from := n.cfg.Now().UTC().Add(-newsAPILookback).Format("2006-01-02")

	var out []domain.Observation

	for fetched := (page - 1) * newsAPIPageSize; fetched < newsAPIHardCap; page++ {
		params := url.Values{
			"q":        {query},
			"language": {n.cfg.Language},
			"apiKey":   {n.cfg.APIKey},
			"pageSize": {strconv.Itoa(newsAPIPageSize)},
			"page":     {strconv.Itoa(page)},
			"from":     {from},
			"searchIn": {"title,description,content"},
			"sortBy":   {"relevancy"},
		}

		var resp newsAPIResponse
		if err := n.client.GetJSON(ctx, NameNewsAPI, n.cfg.BaseURL, params, nil, &resp); err != nil {
			n.next = strconv.Itoa(page)
			return out, err
		}

		if resp.Status != "ok" {
			n.next = strconv.Itoa(page)
			return out, newsAPIError(resp.Code, resp.Message)
		}

		for _, a := range resp.Articles {
			fetched++

			if !n.markNew(urlID(a.URL)) {
				continue
			}

			out = append(out, domain.Observation{
				Title:   clean(a.Title),
				URL:     clean(a.URL),
				Summary: clean(a.Description),
				RawDate: clean(a.PublishedAt),
				Source:  domain.Source{Provider: NameNewsAPI, Method: clean(a.Source.Name)},
			})
		}

		if len(resp.Articles) < newsAPIPageSize || fetched >= resp.TotalResults {
			break
		}
	}

	n.next = ""

	return out, nil
}

func newsAPIError(code, message string) error {
	msg := strings.TrimSpace(code + ": " + message)

	switch strings.ToLower(code) {
	case "ratelimited", "maximumresultsreached":
		return &apperrors.ProviderError{Provider: NameNewsAPI, Kind: apperrors.KindRateLimited, Message: msg}
	case "parameterinvalid", "parametersmissing":
		return &apperrors.ProviderError{Provider: NameNewsAPI, Kind: apperrors.KindMalformedQuery, Message: msg}
	}

	if mentionsQuota(message) {
		return &apperrors.ProviderError{Provider: NameNewsAPI, Kind: apperrors.KindRateLimited, Message: msg}
	}

	return &apperrors.ProviderError{Provider: NameNewsAPI, Kind: apperrors.KindBlocked, Message: msg}
}

func mentionsQuota(message string) bool {
	return containsAny(strings.ToLower(message), []string{"rate", "quota", "limit", "too many"})
}
