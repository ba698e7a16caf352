// Package classify implements the classification gate: an ensemble of
// zero-shot text classifiers whose per-label scores are fused into one
// auditable accept/reject decision per level.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
)

const logKeyModel = "model"

// ModelScorer is one zero-shot model. Score returns one (label, score) pair per
// label, in descending score order.
type ModelScorer interface {
	Name() string
	Score(ctx context.Context, text string, labels []string) ([]domain.LabelScore, error)
}

// Scorer returns the per-model scores of a text over a label set.
type Scorer interface {
	Score(ctx context.Context, text string, labels []string) ([]ModelScores, error)
}

// Ensemble runs its models sequentially. A failing model is logged and
// skipped; the call only fails when no model produced scores.
type Ensemble struct {
	models []ModelScorer
	logger *zerolog.Logger
}

// NewEnsemble builds an ensemble over models, evaluated in the given order.
func NewEnsemble(models []ModelScorer, logger *zerolog.Logger) *Ensemble {
	return &Ensemble{models: models, logger: logger}
}

// Score implements Scorer.
func (e *Ensemble) Score(ctx context.Context, text string, labels []string) ([]ModelScores, error) {
	out := make([]ModelScores, 0, len(e.models))

	for _, m := range e.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		scores, err := m.Score(ctx, text, labels)

		observability.ClassifierRequestDuration.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			e.logger.Warn().Err(err).Str(logKeyModel, m.Name()).Msg("classifier model failed, skipping")
			continue
		}

		if len(scores) == 0 {
			e.logger.Warn().Str(logKeyModel, m.Name()).Msg("classifier model returned no scores, skipping")
			continue
		}

		out = append(out, ModelScores{Model: m.Name(), Scores: scores})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("ensemble of %d models: %w", len(e.models), apperrors.ErrNoModelScores)
	}

	return out, nil
}

// Gate evaluates classification levels against a Scorer.
type Gate struct {
	scorer  Scorer
	weights map[string]float64
	logger  *zerolog.Logger
}

// NewGate builds a gate. weights maps model names to their fusion weight.
func NewGate(scorer Scorer, weights map[string]float64, logger *zerolog.Logger) *Gate {
	return &Gate{scorer: scorer, weights: weights, logger: logger}
}

// Classify scores title and summary for one level.
func (g *Gate) Classify(ctx context.Context, level Level, title, summary string) (*domain.ClassificationResult, error) {
	labels := uniqueLabels(level.Labels)
	if len(labels) == 0 {
		return nil, fmt.Errorf("level %s has no labels: %w", level.ID, apperrors.ErrInvalidInput)
	}

	perModel, err := g.scorer.Score(ctx, JoinText(title, summary), labels)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", level.ID, err)
	}

	res := Evaluate(level, title, summary, perModel, g.weights)

	g.logger.Debug().
		Str("level", level.ID).
		Str("label", res.Label).
		Float64("score", res.Score).
		Int("votes", res.Votes).
		Float64("margin", res.Margin).
		Bool("accepted", res.Accepted).
		Msg("classification level evaluated")

	return res, nil
}

func uniqueLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))

	for _, l := range labels {
		if _, ok := seen[l]; ok || l == "" {
			continue
		}

		seen[l] = struct{}{}
		out = append(out, l)
	}

	return out
}
