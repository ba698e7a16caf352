package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/providers"
)

// Skip records a provider skipped for one keyword.
type Skip struct {
	Provider string
	Kind     apperrors.Kind
	Message  string
}

// SearchStats summarizes one keyword across all providers.
type SearchStats struct {
	Observations int
	New          int
	Merged       int
	Skipped      []Skip
	// Completed lists the providers that finished the keyword.
	Completed []string
}

// Searcher calls the providers of a category in order and merges what they
// return into the index.
type Searcher struct {
	category  domain.Category
	providers []providers.Provider
	index     *dedup.Index
	logger    *zerolog.Logger
}

func NewSearcher(category domain.Category, ps []providers.Provider, index *dedup.Index, logger *zerolog.Logger) *Searcher {
	return &Searcher{category: category, providers: ps, index: index, logger: logger}
}

// Search runs keyword against every provider. Provider-scoped failures skip
// that provider after merging the results it returned so far. A disabled
// provider is skipped silently. Any other failure is returned as is.
func (s *Searcher) Search(ctx context.Context, keyword string) (SearchStats, error) {
	var stats SearchStats

	for _, p := range s.providers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		name := p.Name()
		logger := s.logger.With().Str(LogFieldProvider, name).Str(LogFieldKeyword, keyword).Logger()

		obs, err := p.Search(ctx, keyword)
		s.merge(name, obs, &stats)

		if err == nil {
			stats.Completed = append(stats.Completed, name)
			logger.Debug().Int("results", len(obs)).Msg("provider finished keyword")

			continue
		}

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		switch {
		case errors.Is(err, apperrors.ErrClientDisabled):
			logger.Debug().Msg("provider disabled, skipping")
		case apperrors.IsProviderScoped(err):
			kind := apperrors.KindOf(err)
			stats.Skipped = append(stats.Skipped, Skip{Provider: name, Kind: kind, Message: err.Error()})
			observability.ProviderSkips.WithLabelValues(name, string(kind)).Inc()
			logger.Warn().Err(err).Str(LogFieldKind, string(kind)).Int("partial", len(obs)).Msg("provider skipped for keyword")
		default:
			return stats, err
		}
	}

	observability.CanonicalItems.WithLabelValues(string(s.category)).Set(float64(s.index.Len()))

	return stats, nil
}

func (s *Searcher) merge(provider string, obs []domain.Observation, stats *SearchStats) {
	if len(obs) == 0 {
		return
	}

	merged := 0

	for _, o := range obs {
		if _, dup := s.index.Upsert(o); dup {
			merged++
		}
	}

	stats.Observations += len(obs)
	stats.Merged += merged
	stats.New += len(obs) - merged

	observability.ObservationsIngested.WithLabelValues(string(s.category), provider).Add(float64(len(obs)))
	observability.DuplicatesMerged.WithLabelValues(string(s.category)).Add(float64(merged))
}
