// Package crawler wires the providers, the run state machine, the filter
// cascade and the sinks into the incident crawler.
//
// A crawl runs one category at a time. Each category keeps its own
// checkpoint, so a paused category can be resumed without touching the
// others.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/ingest"
	"github.com/lueurxax/incident-crawler/internal/notify"
	"github.com/lueurxax/incident-crawler/internal/platform/config"
	"github.com/lueurxax/incident-crawler/internal/process/classify"
	"github.com/lueurxax/incident-crawler/internal/process/enrichment"
	"github.com/lueurxax/incident-crawler/internal/process/filters"
	"github.com/lueurxax/incident-crawler/internal/process/pipeline"
	"github.com/lueurxax/incident-crawler/internal/providers"
	db "github.com/lueurxax/incident-crawler/internal/storage"
)

const (
	fieldCategory   = "category"
	fieldCheckpoint = "checkpoint"

	archiveSummaryTimeout = 10 * time.Second
	archiveGateLimit      = 10
)

// Crawler owns the long-lived collaborators of a crawl.
type Crawler struct {
	cfg    *config.Config
	store  *ingest.CheckpointStore
	runner *ingest.Runner
	db     *db.DB
	redis  *redis.Client
	audit  *db.JSONLAuditor
	logger *zerolog.Logger
}

// New connects the optional Postgres and Redis backends and builds the
// cascade. Backends left unconfigured are skipped.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Crawler, error) {
	c := &Crawler{
		cfg:    cfg,
		store:  ingest.NewCheckpointStore(cfg.StateDir, logger),
		audit:  db.NewJSONLAuditor(cfg.AuditDir),
		logger: logger,
	}

	if err := c.connect(ctx); err != nil {
		c.Close()
		return nil, err
	}

	cascade, err := c.buildCascade()
	if err != nil {
		c.Close()
		return nil, err
	}

	client := providers.NewClient(cfg.ProviderClient(), logger)
	settings := cfg.ProviderSettings()

	deps := ingest.Deps{
		Store: c.store,
		Providers: func(category domain.Category) ([]providers.Provider, error) {
			return providers.ForCategory(category, settings, client, logger)
		},
		Cascade: cascade,
	}

	if cfg.EnrichmentEnabled {
		deps.Enricher = enrichment.New(
			cfg.Enrichment(),
			enrichment.NewWebFetcher(cfg.WebFetchRPS, cfg.WebFetchTimeout, ""),
			enrichment.NewDomainFilter(cfg.EnrichmentAllowlist, cfg.EnrichmentDenylist, true),
			logger,
		)
	}

	c.runner = ingest.NewRunner(deps, cfg.Dedup(), logger)

	return c, nil
}

func (c *Crawler) connect(ctx context.Context) error {
	if c.cfg.PostgresDSN != "" {
		database, err := db.NewWithOptions(ctx, c.cfg.PostgresDSN, c.cfg.DatabasePool(), c.logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}

		c.db = database

		if err := c.db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}

	if c.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(c.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}

		c.redis = redis.NewClient(opts)

		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	return nil
}

func (c *Crawler) buildCascade() (*pipeline.Pipeline, error) {
	relLex, err := filters.LoadRelevanceLexicon(c.cfg.RelevanceLexicon)
	if err != nil {
		return nil, err
	}

	relevance, err := filters.NewRelevanceFilter(relLex)
	if err != nil {
		return nil, err
	}

	incLex, err := filters.LoadIncidentLexicon(c.cfg.IncidentLexicon)
	if err != nil {
		return nil, err
	}

	mode, err := filters.ParseMode(c.cfg.IncidentMode)
	if err != nil {
		return nil, err
	}

	scope, err := filters.ParseScope(c.cfg.IncidentScope)
	if err != nil {
		return nil, err
	}

	incident, err := filters.NewIncidentFilter(incLex, mode, scope)
	if err != nil {
		return nil, err
	}

	pcfg := c.cfg.Pipeline()
	deps := pipeline.Deps{
		Relevance: relevance,
		Incident:  incident,
		Auditor:   c.auditor(),
	}

	if pcfg.ClassificationEnabled {
		if pcfg.Levels, err = classify.LoadLevels(c.cfg.LevelsPath); err != nil {
			return nil, err
		}

		scorer, err := c.buildScorer()
		if err != nil {
			return nil, err
		}

		deps.Classifier = classify.NewGate(scorer, nil, c.logger)
	}

	if deps.Sinks, err = c.sinks(); err != nil {
		return nil, err
	}

	return pipeline.New(pcfg, deps, c.logger), nil
}

// buildScorer assembles the zero-shot ensemble from every configured model,
// behind the Redis cache when one is available.
func (c *Crawler) buildScorer() (classify.Scorer, error) {
	var models []classify.ModelScorer

	if c.cfg.LLMAPIKey != "" {
		models = append(models, classify.NewOpenAIScorer(c.cfg.LLMAPIKey, c.cfg.LLMBaseURL, c.cfg.LLMModel, c.cfg.LLMRPS))
	}

	for i, endpoint := range c.cfg.ZeroShotEndpoints {
		models = append(models, classify.NewHTTPZeroShot(classify.HTTPZeroShotConfig{
			Name:     fmt.Sprintf("zeroshot-%d", i+1),
			Endpoint: endpoint,
			Token:    c.cfg.ZeroShotToken,
			RPS:      c.cfg.ZeroShotRPS,
		}))
	}

	if len(models) == 0 {
		return nil, fmt.Errorf("classification enabled without LLM_API_KEY or ZEROSHOT_ENDPOINTS: %w", apperrors.ErrInvalidInput)
	}

	var scorer classify.Scorer = classify.NewEnsemble(models, c.logger)
	if c.redis != nil {
		scorer = classify.NewCachedClassifier(scorer, c.redis, c.cfg.ClassifyCacheTTL, c.logger)
	}

	return scorer, nil
}

func (c *Crawler) auditor() pipeline.Auditor {
	if c.db == nil {
		return c.audit
	}

	return db.MultiAuditor{c.audit, c.db}
}

func (c *Crawler) sinks() ([]pipeline.KeepSink, error) {
	var out []pipeline.KeepSink

	if c.db != nil {
		out = append(out, db.NewKeptItems(c.db))
	}

	if c.cfg.BotToken != "" {
		var dedup notify.Deduper
		if c.redis != nil {
			dedup = notify.NewRedisDeduper(c.redis, c.cfg.NotifyDedupTTL)
		}

		n, err := notify.NewTelegramNotifier(c.cfg.BotToken, c.cfg.Notify(), dedup, c.logger)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

// Run crawls every category of opts in turn. A paused category does not stop
// the others; cancellation does. The reports of finished categories are
// returned with the joined errors of the rest.
func (c *Crawler) Run(ctx context.Context, opts Options) ([]*ingest.Report, error) {
	var (
		reports []*ingest.Report
		errs    []error
		total   domain.FilterStats
	)

	started := time.Now()

	for _, category := range opts.Categories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		rep, err := c.runCategory(ctx, category, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
			continue
		}

		total.Add(rep.State.FilterStats)
		reports = append(reports, rep)

		c.logger.Info().
			Str(fieldCategory, string(category)).
			Str(fieldCheckpoint, rep.Basename).
			Int("results", len(rep.State.Results)).
			Int("kept_this_pass", len(rep.Kept)).
			Msg("Category completed")
	}

	if len(reports) > 0 {
		c.logger.Info().
			Int("total_items", total.TotalItems).
			Int("filtered_by_year", total.FilteredByYear).
			Int("filtered_by_heuristic_auto", total.FilteredByRelevance).
			Int("filtered_by_heuristic_inci", total.FilteredByIncident).
			Int("already_processed_ia", total.AlreadyAnalyzed).
			Int("filtered_by_ai", total.FilteredByAI).
			Int("saved_items", total.SavedItems).
			Msg("Crawl totals")
	}

	if c.db != nil {
		c.logArchive(ctx, started, opts.Categories)
	}

	return reports, errors.Join(errs...)
}

// logArchive reports what the Postgres sinks hold after a crawl: discards
// written since started, by gate, and the archived count per category.
func (c *Crawler) logArchive(ctx context.Context, started time.Time, categories []domain.Category) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveSummaryTimeout)
	defer cancel()

	stats, err := c.db.GateDropStats(ctx, started, archiveGateLimit)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read discard audit stats")
	}

	for _, s := range stats {
		c.logger.Info().Str("gate", s.Gate).Int("discarded", s.Count).Msg("Discard audit")
	}

	for _, category := range categories {
		n, err := c.db.CountKept(ctx, category)
		if err != nil {
			c.logger.Warn().Err(err).Str(fieldCategory, string(category)).Msg("failed to count kept items")
			continue
		}

		c.logger.Info().Str(fieldCategory, string(category)).Int("archived", n).Msg("Kept items archive")
	}
}

func (c *Crawler) runCategory(ctx context.Context, category domain.Category, opts Options) (*ingest.Report, error) {
	params := ingest.Params{Enrich: c.cfg.EnrichmentEnabled, Classify: c.cfg.ClassifyEnabled}

	if opts.Resume == "" {
		if opts.StateName != "" {
			c.store.Bind(category, opts.StateName)
		}

		return c.runner.Start(ctx, category, opts.Keywords, params)
	}

	basename := opts.Resume
	if basename == ResumeLatest {
		latest, err := c.store.Latest(category)
		if err != nil {
			c.logger.Warn().Err(err).Str(fieldCategory, string(category)).Msg("nothing to resume, starting fresh")
			c.store.Bind(category, opts.StateName)

			return c.runner.Start(ctx, category, opts.Keywords, params)
		}

		basename = latest
	}

	rep, err := c.runner.Resume(ctx, category, basename)

	switch {
	case errors.Is(err, apperrors.ErrNoCheckpoint):
		// The named checkpoint does not exist yet: the fresh run creates it.
		c.logger.Warn().Str(fieldCheckpoint, basename).Msg("checkpoint not found, starting fresh")
		return c.runner.Start(ctx, category, opts.Keywords, params)
	case errors.Is(err, apperrors.ErrCorruptCheckpoint):
		// Leave the unreadable file in place and start under a new name.
		c.logger.Warn().Err(err).Str(fieldCheckpoint, basename).Msg("checkpoint unreadable, starting fresh")
		c.store.Bind(category, "")

		return c.runner.Start(ctx, category, opts.Keywords, params)
	default:
		return rep, err
	}
}

// Status is the progress of the bound checkpoint of a category.
type Status struct {
	Checkpoint string             `json:"checkpoint"`
	Status     ingest.Status      `json:"status"`
	Progress   ingest.Progress    `json:"progress"`
	Remaining  int                `json:"remaining_keywords"`
	Current    string             `json:"current_keyword,omitempty"`
	Results    int                `json:"results"`
	Stats      domain.FilterStats `json:"filter_stats"`
	LastError  *ingest.LastError  `json:"last_error,omitempty"`
}

// Progress reads the bound checkpoint of every category that has one.
func (c *Crawler) Progress() map[domain.Category]Status {
	out := make(map[domain.Category]Status)

	for _, category := range []domain.Category{domain.CategoryNews, domain.CategoryPapers, domain.CategoryVulnerabilities} {
		name, ok := c.store.Basename(category)
		if !ok {
			continue
		}

		st, err := c.store.Load(category)
		if err != nil {
			continue
		}

		out[category] = Status{
			Checkpoint: name,
			Status:     st.Status,
			Progress:   st.Progress,
			Remaining:  len(st.RemainingKeywords),
			Current:    st.CurrentKeyword,
			Results:    len(st.Results),
			Stats:      st.FilterStats,
			LastError:  st.LastError,
		}
	}

	return out
}

// Ping checks the configured backends.
func (c *Crawler) Ping(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

// Close releases the audit files and backend connections.
func (c *Crawler) Close() {
	if err := c.audit.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("closing audit files")
	}

	if c.db != nil {
		c.db.Close()
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("closing redis")
		}
	}
}
