package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// KeptItems archives records that passed every gate, one row per category
// and normalized key.
type KeptItems struct {
	db *DB
}

// NewKeptItems returns the archive sink. Rows are tagged with the run id
// carried by the context of Keep.
func NewKeptItems(db *DB) *KeptItems {
	return &KeptItems{db: db}
}

// Keep upserts item. A record kept again refreshes its content and sources
// but keeps its first_seen_at.
func (k *KeptItems) Keep(ctx context.Context, category domain.Category, normKey string, item *domain.CanonicalItem) error {
	query, args, err := upsertKeptQuery(domain.RunIDFrom(ctx), category, normKey, item)
	if err != nil {
		return err
	}

	if _, err := k.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save kept item: %w", err)
	}

	return nil
}

// CountKept returns the number of archived records of category.
func (db *DB) CountKept(ctx context.Context, category domain.Category) (int, error) {
	query, args, err := psql.Select("COUNT(*)::int").
		From(tableKeptItems).
		Where(sq.Eq{"category": string(category)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build kept count query: %w", err)
	}

	var n int
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count kept items: %w", err)
	}

	return n, nil
}

func upsertKeptQuery(runID string, category domain.Category, normKey string, item *domain.CanonicalItem) (string, []any, error) {
	sources, err := jsonText(item.SourceNames())
	if err != nil {
		return "", nil, err
	}

	reasons, err := jsonText(item.Decision.Reasons)
	if err != nil {
		return "", nil, err
	}

	var (
		relevanceScore   *int
		incidentScore    *int
		incidentCategory string
	)

	if item.Relevance != nil {
		relevanceScore = &item.Relevance.Score
	}

	if item.Incident != nil {
		incidentScore = &item.Incident.Score
		incidentCategory = item.Incident.Category
	}

	query, args, err := psql.Insert(tableKeptItems).
		Columns(
			"category", "norm_key", "item_key", "run_id", "title", "summary", "url",
			"year", "published", "language", "sources", "reasons",
			"relevance_score", "incident_score", "incident_category", "rules_version",
		).
		Values(
			string(category), normKey, item.Key, nullable(runID), SanitizeUTF8(item.Title), SanitizeUTF8(item.Summary), nullable(item.URL),
			item.Year, nullable(item.Date), nullable(item.Language), sources, reasons,
			relevanceScore, incidentScore, nullable(incidentCategory), item.Decision.RulesVersion,
		).
		Suffix(`ON CONFLICT (category, norm_key) DO UPDATE SET
			item_key = EXCLUDED.item_key,
			run_id = EXCLUDED.run_id,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			url = COALESCE(EXCLUDED.url, kept_items.url),
			year = COALESCE(EXCLUDED.year, kept_items.year),
			published = COALESCE(EXCLUDED.published, kept_items.published),
			language = COALESCE(EXCLUDED.language, kept_items.language),
			sources = EXCLUDED.sources,
			reasons = EXCLUDED.reasons,
			relevance_score = EXCLUDED.relevance_score,
			incident_score = EXCLUDED.incident_score,
			incident_category = EXCLUDED.incident_category,
			rules_version = EXCLUDED.rules_version,
			updated_at = NOW()`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build kept upsert: %w", err)
	}

	return query, args, nil
}
