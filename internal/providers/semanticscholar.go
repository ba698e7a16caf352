package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	NameSemanticScholar = "SemanticScholar"

	semanticScholarBaseURL  = "https://api.semanticscholar.org/graph/v1/paper/search/bulk"
	semanticScholarFields   = "title,abstract,year,url,authors,externalIds,publicationDate"
	semanticScholarMaxPages = 5
	semanticScholarMethod   = "bulk"
	headerAPIKey            = "x-api-key"
	headerAccept            = "Accept"
	mimeJSON                = "application/json"
)

// SemanticScholarConfig configures the Semantic Scholar bulk search provider.
type SemanticScholarConfig struct {
	BaseURL  string
	APIKey   string
	MaxPages int
}

// SemanticScholar pages through /paper/search/bulk with its continuation token.
type SemanticScholar struct {
	tracker
	cfg    SemanticScholarConfig
	client *Client
}

// NewSemanticScholar builds the provider. The API key is optional.
func NewSemanticScholar(cfg SemanticScholarConfig, client *Client) *SemanticScholar {
	if cfg.BaseURL == "" {
		cfg.BaseURL = semanticScholarBaseURL
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = semanticScholarMaxPages
	}

	return &SemanticScholar{tracker: newTracker(), cfg: cfg, client: client}
}

func (s *SemanticScholar) Name() string { return NameSemanticScholar }

type semanticScholarResponse struct {
	Total int    `json:"total"`
	Token string `json:"token"`
	Data  []struct {
		PaperID         string         `json:"paperId"`
		Title           string         `json:"title"`
		Abstract        string         `json:"abstract"`
		Year            int            `json:"year"`
		URL             string         `json:"url"`
		PublicationDate string         `json:"publicationDate"`
		ExternalIDs     map[string]any `json:"externalIds"`
	} `json:"data"`
}

func (s *SemanticScholar) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	token := s.startKeyword(keyword)
	query := "(" + strings.TrimSpace(keyword) + ") + " + orGroup(securityTerms, "|") + " + " + orGroup(automotiveTerms, "|")

	headers := http.Header{headerAccept: {mimeJSON}}
	if s.cfg.APIKey != "" {
		headers.Set(headerAPIKey, s.cfg.APIKey)
	}

	var out []domain.Observation

	for page := 0; page < s.cfg.MaxPages; page++ {
		params := url.Values{
			"query":  {query},
			"year":   {"2020-"},
			"sort":   {"publicationDate"},
			"fields": {semanticScholarFields},
		}
		if token != "" {
			params.Set("token", token)
		}

		var resp semanticScholarResponse
		if err := s.client.GetJSON(ctx, NameSemanticScholar, s.cfg.BaseURL, params, headers, &resp); err != nil {
			s.next = token
			return out, err
		}

		if len(resp.Data) == 0 {
			break
		}

		for _, p := range resp.Data {
			if !s.markNew(p.PaperID) {
				continue
			}

			date := clean(p.PublicationDate)
			if date == "" && p.Year > 0 {
				date = strconv.Itoa(p.Year)
			}

			out = append(out, domain.Observation{
				Title:      clean(p.Title),
				URL:        clean(p.URL),
				Summary:    clean(p.Abstract),
				RawDate:    date,
				ExternalID: externalDOI(p.ExternalIDs),
				Source:     domain.Source{Provider: NameSemanticScholar, Method: semanticScholarMethod},
			})
		}

		token = resp.Token
		if token == "" {
			break
		}
	}

	s.next = ""

	return out, nil
}

func externalDOI(ids map[string]any) string {
	if v, ok := ids["DOI"].(string); ok {
		return clean(v)
	}

	return ""
}
