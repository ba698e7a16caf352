// Package domain holds the core types shared by the dedup index, the filter
// cascade and the ingestion runner.
package domain

import (
	"fmt"
	"strings"
)

// Category identifies a crawl category. Each category has its own providers
// and its own bound checkpoint.
type Category string

// Crawl categories.
const (
	CategoryNews            Category = "news"
	CategoryPapers          Category = "papers"
	CategoryVulnerabilities Category = "vulnerabilities"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryNews, CategoryPapers, CategoryVulnerabilities:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// Source is one contributing provider of a canonical item.
type Source struct {
	Provider string `json:"provider"`
	Method   string `json:"method"`
}

// String renders the source the way it is shown in exports: "Name (method)".
func (s Source) String() string {
	if s.Method == "" {
		return s.Provider
	}

	return fmt.Sprintf("%s (%s)", s.Provider, s.Method)
}

// Observation is one raw result returned by a provider for a keyword.
// At least one of Title or URL is expected; every other field is optional.
type Observation struct {
	Title      string
	URL        string
	Summary    string
	RawDate    string
	ExternalID string
	Language   string
	Source     Source
}

// CanonicalItem is the deduplicated representation of one real-world item.
type CanonicalItem struct {
	Key             string   `json:"key"`
	Sources         []Source `json:"sources"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Year            *int     `json:"year"`
	Date            string   `json:"date"`
	URL             string   `json:"url"`
	ExternalID      string   `json:"external_id,omitempty"`
	Language        string   `json:"language,omitempty"`
	NeedsEnrichment bool     `json:"needs_enrichment"`
	SearchedAt      string   `json:"searched_at"`
	TitleSimHash    uint64   `json:"title_simhash,omitempty"`
	SummarySimHash  uint64   `json:"summary_simhash,omitempty"`

	Relevance      *RelevanceResult                 `json:"relevance,omitempty"`
	Incident       *IncidentResult                  `json:"incident,omitempty"`
	Classification map[string]*ClassificationResult `json:"classification,omitempty"`
	Decision       FilterDecision                   `json:"decision"`
}

// HasSource reports whether s already contributed to the item.
func (c *CanonicalItem) HasSource(s Source) bool {
	for _, existing := range c.Sources {
		if existing == s {
			return true
		}
	}

	return false
}

// SourceNames returns the rendered source list.
func (c *CanonicalItem) SourceNames() []string {
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.String())
	}

	return out
}

// IsPlaceholderSummary reports whether a summary carries no information:
// empty, "no abstract", or a "not available" style marker.
func IsPlaceholderSummary(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))

	return t == "" || strings.HasPrefix(t, "no abstract") ||
		strings.Contains(t, "not available") || strings.Contains(t, "no disponible")
}
