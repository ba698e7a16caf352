// Package pipeline runs canonical records through the filter cascade:
// year window, relevance, incident, and the classification levels. Every
// record leaves with a keep or drop decision; drops are audited.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
	"github.com/lueurxax/incident-crawler/internal/process/classify"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/process/filters"
)

// RelevanceScorer scores domain relevance.
type RelevanceScorer interface {
	Score(parts ...string) domain.RelevanceResult
}

// IncidentScorer decides whether text describes a real incident.
type IncidentScorer interface {
	Classify(title, summary string) domain.IncidentResult
}

// Classifier evaluates one classification level. *classify.Gate implements it.
type Classifier interface {
	Classify(ctx context.Context, level classify.Level, title, summary string) (*domain.ClassificationResult, error)
}

// Auditor persists the audit trail of dropped records.
type Auditor interface {
	Record(ctx context.Context, rec domain.DiscardRecord) error
}

// KeepSink receives every kept record.
type KeepSink interface {
	Keep(ctx context.Context, category domain.Category, normKey string, item *domain.CanonicalItem) error
}

// Compile-time assertions for the default collaborators.
var (
	_ RelevanceScorer = (*filters.RelevanceFilter)(nil)
	_ IncidentScorer  = (*filters.IncidentFilter)(nil)
	_ Classifier      = (*classify.Gate)(nil)
)

// Config tunes the cascade.
type Config struct {
	RulesVersion          string
	MinYear               int
	MaxYear               int // 0 means the current year
	RedCutoff             int
	ClassificationEnabled bool
	Levels                []classify.Level
}

// Deps are the collaborators of the cascade. Classifier may be nil when
// classification is disabled; Auditor and Sinks are optional.
type Deps struct {
	Relevance  RelevanceScorer
	Incident   IncidentScorer
	Classifier Classifier
	Auditor    Auditor
	Sinks      []KeepSink
}

type Pipeline struct {
	cfg    Config
	deps   Deps
	runID  string
	logger *zerolog.Logger
}

// Result is the outcome of one cascade pass.
type Result struct {
	Stats domain.FilterStats
	// Kept maps the normalized key of every kept record to the record.
	Kept map[string]*domain.CanonicalItem
}

var reasonScorePrefix = regexp.MustCompile(`^\+?-?\d+\s*`)

func New(cfg Config, deps Deps, logger *zerolog.Logger) *Pipeline {
	if cfg.RulesVersion == "" {
		cfg.RulesVersion = DefaultRulesVersion
	}

	if cfg.MinYear == 0 {
		cfg.MinYear = DefaultMinYear
	}

	if cfg.RedCutoff == 0 {
		cfg.RedCutoff = filters.DefaultRedCutoff
	}

	return &Pipeline{cfg: cfg, deps: deps, logger: logger}
}

// WithRunID tags audit records and kept sinks with the id of the run that
// produced them.
func (p *Pipeline) WithRunID(runID string) *Pipeline {
	cp := *p
	cp.runID = runID

	return &cp
}

// Run filters items in order. analyzed holds the normalized keys already
// classified in earlier passes; keys of records that pass classification are
// added to it. Only context cancellation aborts the pass.
func (p *Pipeline) Run(ctx context.Context, category domain.Category, items []*domain.CanonicalItem, analyzed *AnalyzedIDs) (Result, error) {
	res := Result{Kept: make(map[string]*domain.CanonicalItem)}
	res.Stats.TotalItems = len(items)

	if p.runID != "" {
		ctx = domain.WithRunID(ctx, p.runID)
	}

	logger := p.logger.With().Str(LogFieldCategory, string(category)).Logger()
	logger.Info().Int("items", len(items)).Msg("Applying filter cascade")

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("filter cascade: %w", err)
		}

		if err := p.process(ctx, logger, category, item, analyzed, &res); err != nil {
			return res, err
		}
	}

	logger.Info().
		Int("saved", res.Stats.SavedItems).
		Int("by_year", res.Stats.FilteredByYear).
		Int("by_relevance", res.Stats.FilteredByRelevance).
		Int("by_incident", res.Stats.FilteredByIncident).
		Int("by_ai", res.Stats.FilteredByAI).
		Int("already_analyzed", res.Stats.AlreadyAnalyzed).
		Msg("Filter cascade finished")

	return res, nil
}

func (p *Pipeline) process(ctx context.Context, logger zerolog.Logger, category domain.Category, item *domain.CanonicalItem, analyzed *AnalyzedIDs, res *Result) error {
	item.Decision = domain.FilterDecision{RulesVersion: p.cfg.RulesVersion}
	item.Relevance = nil
	item.Incident = nil
	item.Classification = nil

	normKey := NormKey(category, item)
	logger = logger.With().Str(LogFieldKey, item.Key).Logger()

	if !p.inYearWindow(item.Year) {
		res.Stats.FilteredByYear++
		p.drop(item, domain.GateYear, []string{p.yearReason(item.Year)})
		logger.Debug().Str(LogFieldTitle, short(item.Title)).Msg("outside year window")

		return nil
	}

	if domain.IsPlaceholderSummary(item.Summary) {
		res.Stats.MissingSummary++
	}

	rel := p.deps.Relevance.Score(item.Title, item.Summary)
	item.Relevance = &rel

	if rel.Score < p.cfg.RedCutoff {
		res.Stats.FilteredByRelevance++
		p.drop(item, domain.GateRelevance, relevanceReasons(rel, p.cfg.RedCutoff))
		p.audit(ctx, logger, p.discard(category, normKey, item))

		return nil
	}

	inc := p.deps.Incident.Classify(item.Title, item.Summary)
	item.Incident = &inc

	if !inc.Keep {
		res.Stats.FilteredByIncident++

		reasons := stripScores(inc.Reasons)
		if len(reasons) == 0 {
			reasons = []string{ReasonNoIncidentEvidence}
		}

		p.drop(item, domain.GateIncident, reasons)
		p.audit(ctx, logger, p.discard(category, normKey, item))

		return nil
	}

	if analyzed.Has(normKey) {
		res.Stats.AlreadyAnalyzed++
		logger.Debug().Str(LogFieldTitle, short(item.Title)).Msg("already classified in an earlier pass")

		return nil
	}

	if p.cfg.ClassificationEnabled && p.deps.Classifier != nil {
		rejected, err := p.classify(ctx, logger, category, normKey, item)
		if err != nil {
			return err
		}

		if rejected {
			res.Stats.FilteredByAI++
			return nil
		}

		analyzed.Add(normKey)
	}

	p.keep(item, rel, inc)
	res.Stats.SavedItems++
	res.Kept[normKey] = item

	observability.ItemsKept.WithLabelValues(string(category)).Inc()

	for _, sink := range p.deps.Sinks {
		if err := sink.Keep(ctx, category, normKey, item); err != nil {
			observability.AuditWriteErrors.WithLabelValues("keep").Inc()
			logger.Warn().Err(err).Msg("failed to deliver kept item")
		}
	}

	return nil
}

// classify evaluates the levels in order; the first rejecting level stops the
// record. Classifier failures count as an abstention.
func (p *Pipeline) classify(ctx context.Context, logger zerolog.Logger, category domain.Category, normKey string, item *domain.CanonicalItem) (bool, error) {
	item.Classification = make(map[string]*domain.ClassificationResult, len(p.cfg.Levels))

	for _, level := range p.cfg.Levels {
		if len(level.Labels) == 0 {
			continue
		}

		cr, err := p.deps.Classifier.Classify(ctx, level, item.Title, item.Summary)
		if err != nil {
			if ctx.Err() != nil {
				return false, fmt.Errorf("classify %s: %w", item.Key, err)
			}

			logger.Warn().Err(err).Str(LogFieldLevel, level.ID).Msg("classification failed, treating as abstention")

			cr = &domain.ClassificationResult{Label: level.EffectiveAbstainLabel()}
		}

		item.Classification[level.ID] = cr

		reasons := classify.RejectReasons(level, cr)
		if len(reasons) == 0 {
			continue
		}

		head := fmt.Sprintf("Level %s: label=%s score=%.3f thr=%g", level.ID, cr.Label, cr.Score, level.EffectiveThreshold())
		p.drop(item, domain.GateClassification, append([]string{head}, reasons...))

		rec := p.discard(category, normKey, item)
		rec.Level = level.ID
		rec.Classification = cr
		thr := level.EffectiveThreshold()
		rec.Threshold = &thr
		rec.AbstainLabel = level.EffectiveAbstainLabel()
		rec.BadLabels = level.BadLabels

		p.audit(ctx, logger.With().Str(LogFieldLevel, level.ID).Logger(), rec)

		return true, nil
	}

	return false, nil
}

func (p *Pipeline) keep(item *domain.CanonicalItem, rel domain.RelevanceResult, inc domain.IncidentResult) {
	var reasons []string

	if brands := rel.Hits[filters.CatBrands]; len(brands) > 0 {
		reasons = append(reasons, "Brand detected: "+strings.Join(brands, ", "))
	}

	if attacks := rel.Hits[filters.CatAttack]; len(attacks) > 0 {
		reasons = append(reasons, "Mentions: "+strings.Join(attacks, ", "))
	}

	incReasons := stripScores(inc.Reasons)
	if len(incReasons) > maxKeepIncidentReasons {
		incReasons = incReasons[:maxKeepIncidentReasons]
	}

	reasons = append(reasons, incReasons...)
	if len(reasons) == 0 {
		reasons = []string{ReasonPassedFilters}
	}

	item.Decision.Decision = domain.DecisionKeep
	item.Decision.Gate = domain.GateFinal
	item.Decision.SetReasons(reasons)
}

func (p *Pipeline) drop(item *domain.CanonicalItem, gate string, reasons []string) {
	item.Decision.Decision = domain.DecisionDrop
	item.Decision.Gate = gate
	item.Decision.SetReasons(reasons)

	observability.GateDrops.WithLabelValues(gate).Inc()
}

// audit never fails the cascade; a lost audit row is logged.
func (p *Pipeline) audit(ctx context.Context, logger zerolog.Logger, rec domain.DiscardRecord) {
	if p.deps.Auditor == nil {
		return
	}

	if err := p.deps.Auditor.Record(ctx, rec); err != nil {
		observability.AuditWriteErrors.WithLabelValues(rec.Gate).Inc()
		logger.Warn().Err(err).Str(LogFieldGate, rec.Gate).Msg("failed to save discard audit")
	}
}

func (p *Pipeline) discard(category domain.Category, normKey string, item *domain.CanonicalItem) domain.DiscardRecord {
	rec := domain.DiscardRecord{
		RunID:     p.runID,
		Gate:      item.Decision.Gate,
		NormKey:   normKey,
		ItemKey:   item.Key,
		Category:  category,
		SourceRef: SourceRef(category, item),
		Title:     item.Title,
		Summary:   item.Summary,
		Year:      item.Year,
		Reasons:   item.Decision.Reasons,
	}

	if item.Relevance != nil {
		rec.RelevanceScore = item.Relevance.Score
		rec.RelevanceHits = item.Relevance.Hits
		rec.RelevanceTags = flattenTags(item.Relevance.Tags)
	}

	if item.Incident != nil {
		score := item.Incident.Score
		rec.IncidentScore = &score
		rec.IncidentReasons = item.Incident.Reasons
		rec.IncidentCategory = item.Incident.Category
	}

	return rec
}

func (p *Pipeline) inYearWindow(year *int) bool {
	if year == nil {
		return false
	}

	return *year >= p.cfg.MinYear && *year <= p.maxYear()
}

func (p *Pipeline) yearReason(year *int) string {
	if year == nil {
		return ReasonYearMissing
	}

	return fmt.Sprintf("Year %d outside %d..%d", *year, p.cfg.MinYear, p.maxYear())
}

func (p *Pipeline) maxYear() int {
	if p.cfg.MaxYear == 0 {
		return time.Now().Year()
	}

	return p.cfg.MaxYear
}

// NormKey is the identity used for the analyzed set and the kept results:
// the DOI for papers, the upper-cased identifier for vulnerabilities, the
// normalized title otherwise. Records without the preferred identifier fall
// back to the normalized title, then to their store key.
func NormKey(category domain.Category, item *domain.CanonicalItem) string {
	var key string

	switch category {
	case domain.CategoryPapers:
		key = dedup.NormalizeExternalID(item.ExternalID)
	case domain.CategoryVulnerabilities:
		key = strings.ToUpper(strings.TrimSpace(item.ExternalID))
	case domain.CategoryNews:
	}

	if key == "" {
		key = dedup.NormalizeTitle(item.Title)
	}

	if key == "" {
		key = item.Key
	}

	return key
}

// SourceRef is the human-facing reference of a record: the DOI, the
// vulnerability id or the article URL.
func SourceRef(category domain.Category, item *domain.CanonicalItem) string {
	switch category {
	case domain.CategoryPapers:
		if item.ExternalID != "" {
			return item.ExternalID
		}
	case domain.CategoryVulnerabilities:
		if id := strings.ToUpper(strings.TrimSpace(item.ExternalID)); id != "" {
			return id
		}
	case domain.CategoryNews:
	}

	return item.URL
}

func relevanceReasons(rel domain.RelevanceResult, cutoff int) []string {
	var reasons []string

	if brands := rel.Hits[filters.CatBrands]; len(brands) > 0 {
		reasons = append(reasons, "Brand detected: "+strings.Join(brands, ", "))
	}

	if attacks := rel.Hits[filters.CatAttack]; len(attacks) > 0 {
		reasons = append(reasons, "Mentions: "+strings.Join(attacks, ", "))
	}

	return append(reasons, fmt.Sprintf("Insufficient automotive relevance (score=%d<%d)", rel.Score, cutoff))
}

func stripScores(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, reasonScorePrefix.ReplaceAllString(r, ""))
	}

	return out
}

func flattenTags(tags map[string][]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var out []string

	for _, k := range keys {
		for _, v := range tags[k] {
			out = append(out, k+":"+v)
		}
	}

	return out
}

func short(s string) string {
	r := []rune(s)
	if len(r) > logTitleMax {
		return string(r[:logTitleMax])
	}

	return s
}
