// Package enrichment fills missing summaries of canonical items from the
// description their article page publishes about itself.
package enrichment

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
)

const (
	defaultMaxTotal        = 200
	defaultPerDomainBudget = 5
	defaultMinYear         = 2020

	outcomeEnriched = "enriched"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
	outcomeDenied   = "denied"
	outcomeBudget   = "budget"

	logFieldURL    = "url"
	logFieldDomain = "domain"
	logFieldKey    = "key"
)

// PageFetcher downloads an article page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// Index is the part of the dedup index the enricher updates.
type Index interface {
	Items() []*domain.CanonicalItem
	ApplyEnrichment(key, summary, language string) bool
	ReindexURL(key, rawURL string) bool
}

var (
	_ PageFetcher = (*WebFetcher)(nil)
	_ Index       = (*dedup.Index)(nil)
)

// Config bounds an enrichment pass.
type Config struct {
	MaxTotal        int
	PerDomainBudget int
	MinYear         int
	MaxYear         int

	// PreferSources are provider names whose items are enriched first.
	// They are the providers that usually return no summary.
	PreferSources []string
}

// Stats counts what an enrichment pass did.
type Stats struct {
	Candidates int
	Fetched    int
	Enriched   int
	Reindexed  int
	Failed     int
	Skipped    int
}

// Enricher fetches pages of items without a usable summary.
type Enricher struct {
	cfg     Config
	fetcher PageFetcher
	filter  *DomainFilter
	logger  *zerolog.Logger
	now     func() time.Time
}

// New builds an enricher. A nil filter admits every domain.
func New(cfg Config, fetcher PageFetcher, filter *DomainFilter, logger *zerolog.Logger) *Enricher {
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = defaultMaxTotal
	}

	if cfg.PerDomainBudget <= 0 {
		cfg.PerDomainBudget = defaultPerDomainBudget
	}

	if cfg.MinYear <= 0 {
		cfg.MinYear = defaultMinYear
	}

	if filter == nil {
		filter = NewDomainFilter("", "", false)
	}

	return &Enricher{cfg: cfg, fetcher: fetcher, filter: filter, logger: logger, now: time.Now}
}

// Enrich runs one pass over idx. Fetch and extraction failures are counted
// and skipped; only context cancellation is returned.
func (e *Enricher) Enrich(ctx context.Context, idx Index) (Stats, error) {
	var stats Stats

	candidates := e.candidates(idx.Items())
	stats.Candidates = len(candidates)

	budget := make(map[string]int)

	for _, it := range candidates {
		if stats.Fetched >= e.cfg.MaxTotal {
			break
		}

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		host := normalizeDomain(hostOf(it.URL))
		if !e.filter.IsAllowed(host) {
			stats.Skipped++
			observability.EnrichmentFetches.WithLabelValues(outcomeDenied).Inc()

			continue
		}

		if budget[host] >= e.cfg.PerDomainBudget {
			stats.Skipped++
			observability.EnrichmentFetches.WithLabelValues(outcomeBudget).Inc()

			continue
		}

		budget[host]++
		stats.Fetched++

		page, err := e.fetcher.Fetch(ctx, it.URL)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}

			stats.Failed++
			observability.EnrichmentFetches.WithLabelValues(outcomeError).Inc()
			e.logger.Debug().Err(err).Str(logFieldURL, it.URL).Msg("enrichment fetch failed")

			continue
		}

		desc := ExtractDescription(page.Body, page.URL)

		if desc.Canonical != "" && dedup.NormalizeURL(desc.Canonical) != dedup.NormalizeURL(it.URL) {
			if idx.ReindexURL(it.Key, desc.Canonical) {
				stats.Reindexed++
			}
		}

		if page.URL != it.URL && dedup.NormalizeURL(page.URL) != dedup.NormalizeURL(it.URL) {
			idx.ReindexURL(it.Key, page.URL)
		}

		if !idx.ApplyEnrichment(it.Key, desc.Text, desc.Language) {
			observability.EnrichmentFetches.WithLabelValues(outcomeEmpty).Inc()
			continue
		}

		stats.Enriched++
		observability.EnrichmentFetches.WithLabelValues(outcomeEnriched).Inc()
		e.logger.Debug().Str(logFieldKey, it.Key).Str(logFieldDomain, host).Str("method", desc.Method).Msg("summary enriched")
	}

	e.logger.Info().
		Int("candidates", stats.Candidates).
		Int("fetched", stats.Fetched).
		Int("enriched", stats.Enriched).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Msg("enrichment pass finished")

	return stats, nil
}

// candidates returns the items needing a summary, with a URL and a year in
// the window (or no year), preferred sources first and newest first.
func (e *Enricher) candidates(items []*domain.CanonicalItem) []*domain.CanonicalItem {
	maxYear := e.cfg.MaxYear
	if maxYear <= 0 {
		maxYear = e.now().Year()
	}

	out := make([]*domain.CanonicalItem, 0)

	for _, it := range items {
		if !it.NeedsEnrichment || it.URL == "" {
			continue
		}

		if it.Year != nil && (*it.Year < e.cfg.MinYear || *it.Year > maxYear) {
			continue
		}

		out = append(out, it)
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := e.priority(out[i]), e.priority(out[j])
		if pi != pj {
			return pi > pj
		}

		return yearOf(out[i]) > yearOf(out[j])
	})

	return out
}

func (e *Enricher) priority(it *domain.CanonicalItem) int {
	if len(it.Sources) == 0 {
		return 0
	}

	first := it.Sources[0].Provider
	for i, p := range e.cfg.PreferSources {
		if p == first {
			return len(e.cfg.PreferSources) - i
		}
	}

	return 0
}

func yearOf(it *domain.CanonicalItem) int {
	if it.Year == nil {
		return 0
	}

	return *it.Year
}
