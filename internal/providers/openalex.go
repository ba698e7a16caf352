package providers

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	NameOpenAlex = "OpenAlex"

	openAlexBaseURL  = "https://api.openalex.org/works"
	openAlexPerPage  = 100
	openAlexMaxPages = 5
	openAlexMethod   = "works"
	openAlexFirst    = "*"
	doiURLPrefix     = "https://doi.org/"
)

// OpenAlexConfig configures the OpenAlex works provider.
type OpenAlexConfig struct {
	BaseURL  string
	Mailto   string
	PerPage  int
	MaxPages int
}

// OpenAlex pages through /works with cursor paging.
type OpenAlex struct {
	tracker
	cfg    OpenAlexConfig
	client *Client
}

// NewOpenAlex builds the provider.
func NewOpenAlex(cfg OpenAlexConfig, client *Client) *OpenAlex {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAlexBaseURL
	}

	if cfg.PerPage <= 0 {
		cfg.PerPage = openAlexPerPage
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = openAlexMaxPages
	}

	return &OpenAlex{tracker: newTracker(), cfg: cfg, client: client}
}

func (o *OpenAlex) Name() string { return NameOpenAlex }

type openAlexResponse struct {
	Meta struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
	Results []struct {
		ID  string `json:"id"`
		IDs struct {
			DOI string `json:"doi"`
		} `json:"ids"`
		DisplayName           string           `json:"display_name"`
		Abstract              string           `json:"abstract"`
		AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
		PublicationYear       int              `json:"publication_year"`
		PublicationDate       string           `json:"publication_date"`
	} `json:"results"`
}

func (o *OpenAlex) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	cursor := o.startKeyword(keyword)
	if cursor == "" {
		cursor = openAlexFirst
	}

	query := "(" + strings.TrimSpace(keyword) + ") AND " + orGroup(securityTerms, " OR ") + " AND " + orGroup(automotiveTerms, " OR ")
	headers := http.Header{headerAccept: {mimeJSON}}

	var out []domain.Observation

	for page := 0; page < o.cfg.MaxPages; page++ {
		params := url.Values{
			"search":   {query},
			"per-page": {strconv.Itoa(o.cfg.PerPage)},
			"cursor":   {cursor},
		}
		if o.cfg.Mailto != "" {
			params.Set("mailto", o.cfg.Mailto)
		}

		var resp openAlexResponse
		if err := o.client.GetJSON(ctx, NameOpenAlex, o.cfg.BaseURL, params, headers, &resp); err != nil {
			o.next = cursor
			return out, err
		}

		if len(resp.Results) == 0 {
			break
		}

		for _, w := range resp.Results {
			if !o.markNew(w.ID) {
				continue
			}

			summary := clean(w.Abstract)
			if summary == "" {
				summary = InvertedAbstract(w.AbstractInvertedIndex)
			}

			date := clean(w.PublicationDate)
			if date == "" && w.PublicationYear > 0 {
				date = strconv.Itoa(w.PublicationYear)
			}

			out = append(out, domain.Observation{
				Title:      clean(w.DisplayName),
				URL:        clean(w.ID),
				Summary:    summary,
				RawDate:    date,
				ExternalID: strings.TrimPrefix(clean(w.IDs.DOI), doiURLPrefix),
				Source:     domain.Source{Provider: NameOpenAlex, Method: openAlexMethod},
			})
		}

		cursor = resp.Meta.NextCursor
		if cursor == "" {
			break
		}
	}

	o.next = ""

	return out, nil
}

// InvertedAbstract rebuilds an abstract from OpenAlex's word → positions index.
func InvertedAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type placed struct {
		pos  int
		word string
	}

	words := make([]placed, 0, len(index))
	for w, positions := range index {
		for _, p := range positions {
			words = append(words, placed{pos: p, word: w})
		}
	}

	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })

	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.word)
	}

	return strings.Join(parts, " ")
}
