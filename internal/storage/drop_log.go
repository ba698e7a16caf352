package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// GateDropStat counts discards of one gate.
type GateDropStat struct {
	Gate  string
	Count int
}

// Record inserts one discard audit row.
func (db *DB) Record(ctx context.Context, rec domain.DiscardRecord) error {
	query, args, err := insertDiscardQuery(rec)
	if err != nil {
		return err
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save discard audit: %w", err)
	}

	return nil
}

func insertDiscardQuery(rec domain.DiscardRecord) (string, []any, error) {
	reasons, err := jsonText(rec.Reasons)
	if err != nil {
		return "", nil, err
	}

	hits, err := jsonText(rec.RelevanceHits)
	if err != nil {
		return "", nil, err
	}

	incidentReasons, err := jsonText(rec.IncidentReasons)
	if err != nil {
		return "", nil, err
	}

	var classification any

	if rec.Classification != nil {
		if classification, err = jsonText(rec.Classification); err != nil {
			return "", nil, err
		}
	}

	query, args, err := psql.Insert(tableDiscardAudit).
		Columns(
			"run_id", "gate", "norm_key", "item_key", "category", "source_ref",
			"title", "summary", "year", "reasons",
			"relevance_score", "relevance_hits",
			"incident_score", "incident_category", "incident_reasons",
			"ia_level", "ia_result", "ia_threshold",
		).
		Values(
			nullable(rec.RunID), rec.Gate, rec.NormKey, rec.ItemKey, string(rec.Category), nullable(rec.SourceRef),
			SanitizeUTF8(rec.Title), SanitizeUTF8(rec.Summary), rec.Year, reasons,
			rec.RelevanceScore, hits,
			rec.IncidentScore, nullable(rec.IncidentCategory), incidentReasons,
			nullable(rec.Level), classification, rec.Threshold,
		).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build discard insert: %w", err)
	}

	return query, args, nil
}

// GateDropStats returns discard counts per gate since the given time.
func (db *DB) GateDropStats(ctx context.Context, since time.Time, limit int) ([]GateDropStat, error) {
	query, args, err := psql.Select("gate", "COUNT(*)::int").
		From(tableDiscardAudit).
		Where(sq.GtOrEq{"created_at": since}).
		GroupBy("gate").
		OrderBy("COUNT(*) DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build gate stats query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate drop stats: %w", err)
	}
	defer rows.Close()

	stats := make([]GateDropStat, 0, limit)

	for rows.Next() {
		var entry GateDropStat
		if err := rows.Scan(&entry.Gate, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan gate drop stat row: %w", err)
		}

		stats = append(stats, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gate drop stats rows: %w", err)
	}

	return stats, nil
}

// jsonText encodes v for a jsonb column. A nil value is stored as JSON null.
func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode jsonb: %w", err)
	}

	return string(b), nil
}
