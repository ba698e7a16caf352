package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/process/enrichment"
	"github.com/lueurxax/incident-crawler/internal/process/pipeline"
	"github.com/lueurxax/incident-crawler/internal/providers"
)

// ProviderSource builds the providers of a category, in search order.
type ProviderSource func(category domain.Category) ([]providers.Provider, error)

// Enricher fills missing summaries before the cascade.
type Enricher interface {
	Enrich(ctx context.Context, idx enrichment.Index) (enrichment.Stats, error)
}

// Cascade filters canonical records. *pipeline.Pipeline implements it.
type Cascade interface {
	Run(ctx context.Context, category domain.Category, items []*domain.CanonicalItem, analyzed *pipeline.AnalyzedIDs) (pipeline.Result, error)
}

var (
	_ Enricher = (*enrichment.Enricher)(nil)
	_ Cascade  = (*pipeline.Pipeline)(nil)
)

// Deps are the collaborators of a Runner. Enricher is optional.
type Deps struct {
	Store     *CheckpointStore
	Providers ProviderSource
	Enricher  Enricher
	Cascade   Cascade
}

// Report is the outcome of a finished run.
type Report struct {
	RunID    string
	Basename string
	State    *RunState
	Kept     map[string]*domain.CanonicalItem
}

// Runner drives the keyword loop of one category at a time.
type Runner struct {
	deps     Deps
	indexCfg dedup.Config
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewRunner(deps Deps, indexCfg dedup.Config, logger *zerolog.Logger) *Runner {
	return &Runner{deps: deps, indexCfg: indexCfg, logger: logger, now: time.Now}
}

// run is the in-memory side of one run.
type run struct {
	state     *RunState
	index     *dedup.Index
	providers []providers.Provider
	searcher  *Searcher
	analyzed  *pipeline.AnalyzedIDs
	logger    zerolog.Logger
}

// Start begins a fresh run over keywords. It writes to the checkpoint bound
// to category, binding a timestamped default when none is.
func (r *Runner) Start(ctx context.Context, category domain.Category, keywords []string, params Params) (*Report, error) {
	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}

	if params.StartedAt.IsZero() {
		params.StartedAt = r.now().UTC()
	}

	params.Keywords = append([]string{}, keywords...)

	ps, err := r.deps.Providers(category)
	if err != nil {
		return nil, err
	}

	params.Providers = providerNames(ps)

	name, ok := r.deps.Store.Basename(category)
	if !ok {
		name = r.deps.Store.Bind(category, "")
	}

	st, err := r.deps.Store.Init(category, params, keywords)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint: %w", err)
	}

	ru := r.newRun(st, ps)
	ru.logger.Info().Int("keywords", len(keywords)).Str("checkpoint", name).Msg("Starting run")

	return r.execute(ctx, ru, name)
}

// Resume continues the checkpoint basename of category from the head of its
// remaining keywords. ErrNoCheckpoint and ErrCorruptCheckpoint mean there is
// nothing to resume.
func (r *Runner) Resume(ctx context.Context, category domain.Category, basename string) (*Report, error) {
	name := r.deps.Store.Bind(category, basename)

	st, err := r.deps.Store.Load(category)
	if err != nil {
		return nil, err
	}

	ps, err := r.deps.Providers(category)
	if err != nil {
		return nil, err
	}

	snap, err := cloneSnapshot(st.EngineState.Index)
	if err != nil {
		return nil, fmt.Errorf("restore index: %w", err)
	}

	ru := r.newRun(st, ps)
	ru.index.Restore(snap)

	for _, p := range ps {
		res, ok := p.(providers.Resumable)
		if !ok {
			continue
		}

		if err := res.Resume(st.EngineState.Cursors[p.Name()]); err != nil {
			ru.logger.Warn().Err(err).Str(LogFieldProvider, p.Name()).Msg("discarding unreadable provider cursor")
			_ = res.Resume(nil)
		}
	}

	st.Status = StatusRunning
	st.LastError = nil

	ru.logger.Info().
		Int(LogFieldRemaining, len(st.RemainingKeywords)).
		Int("items", ru.index.Len()).
		Str("checkpoint", name).
		Msg("Resuming run")

	return r.execute(ctx, ru, name)
}

func (r *Runner) newRun(st *RunState, ps []providers.Provider) *run {
	logger := r.logger.With().
		Str(LogFieldCategory, string(st.Category)).
		Str(LogFieldRunID, st.Params.RunID).
		Logger()

	idx := dedup.NewIndex(r.indexCfg, &logger)

	return &run{
		state:     st,
		index:     idx,
		providers: ps,
		searcher:  NewSearcher(st.Category, ps, idx, &logger),
		analyzed:  pipeline.NewAnalyzedIDs(st.AnalyzedIDs),
		logger:    logger,
	}
}

func (r *Runner) execute(ctx context.Context, ru *run, basename string) (*Report, error) {
	st := ru.state
	category := string(st.Category)

	for len(st.RemainingKeywords) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, r.pause(ru, LastError{Kind: KindInterrupted, Message: err.Error()}, err)
		}

		if err := r.keyword(ctx, ru); err != nil {
			return nil, r.fail(ctx, ru, err)
		}

		observability.KeywordsProcessed.WithLabelValues(category).Inc()
		observability.KeywordsRemaining.WithLabelValues(category).Set(float64(len(st.RemainingKeywords)))
	}

	if err := r.finish(ctx, ru); err != nil {
		return nil, r.fail(ctx, ru, err)
	}

	ru.logger.Info().
		Int("items", ru.index.Len()).
		Int("kept", len(st.Results)).
		Msg("Run completed")

	return &Report{RunID: st.Params.RunID, Basename: basename, State: st, Kept: st.Results}, nil
}

// keyword processes the head of the queue between two checkpoints. The
// keyword stays in the persisted queue until its providers have returned.
func (r *Runner) keyword(ctx context.Context, ru *run) error {
	st := ru.state
	kw := st.RemainingKeywords[0]

	if _, err := r.deps.Store.Patch(st.Category, func(p *RunState) {
		p.Status = StatusRunning
		p.RemainingKeywords = append([]string{}, st.RemainingKeywords...)
		p.CurrentKeyword = kw
		p.LastError = nil
	}); err != nil {
		return fmt.Errorf("pre-keyword checkpoint: %w", err)
	}

	st.CurrentKeyword = kw

	stats, err := ru.searcher.Search(ctx, kw)
	if err != nil {
		return err
	}

	st.RemainingKeywords = st.RemainingKeywords[1:]
	st.CurrentKeyword = ""
	st.Progress.ProcessedKeywords++

	for _, name := range stats.Completed {
		st.Cursors[name] = kw
	}

	if err := r.captureEngine(ru); err != nil {
		return err
	}

	ru.logger.Info().
		Str(LogFieldKeyword, kw).
		Int("observations", stats.Observations).
		Int("new", stats.New).
		Int("merged", stats.Merged).
		Int("skipped", len(stats.Skipped)).
		Int(LogFieldRemaining, len(st.RemainingKeywords)).
		Msg("Keyword processed")

	if st.Progress.ProcessedKeywords%fullSaveEvery == 0 {
		if err := r.deps.Store.Save(st); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}

		return nil
	}

	if _, err := r.deps.Store.Patch(st.Category, func(p *RunState) {
		p.RemainingKeywords = append([]string{}, st.RemainingKeywords...)
		p.CurrentKeyword = ""
		p.Cursors = st.Cursors
		p.Progress = st.Progress
		p.EngineState = st.EngineState
	}); err != nil {
		return fmt.Errorf("post-keyword checkpoint: %w", err)
	}

	return nil
}

// finish enriches summaries, runs the cascade and marks the run completed.
func (r *Runner) finish(ctx context.Context, ru *run) error {
	st := ru.state

	if r.deps.Enricher != nil && st.Params.Enrich {
		if _, err := r.deps.Enricher.Enrich(ctx, ru.index); err != nil {
			return err
		}
	}

	cascade := r.deps.Cascade
	if p, ok := cascade.(*pipeline.Pipeline); ok {
		cascade = p.WithRunID(st.Params.RunID)
	}

	res, err := cascade.Run(ctx, st.Category, ru.index.Items(), ru.analyzed)
	if err != nil {
		return err
	}

	for k, it := range res.Kept {
		st.Results[k] = it
	}

	st.FilterStats = res.Stats
	st.AnalyzedIDs = ru.analyzed.List()

	if err := r.captureEngine(ru); err != nil {
		return err
	}

	if err := r.deps.Store.MarkCompleted(st); err != nil {
		return fmt.Errorf("complete checkpoint: %w", err)
	}

	return nil
}

// captureEngine copies the index snapshot and provider cursors into the
// in-memory state. It only runs at keyword boundaries, so the engine state
// never holds a partially searched keyword.
func (r *Runner) captureEngine(ru *run) error {
	st := ru.state

	snap, err := cloneSnapshot(ru.index.Snapshot())
	if err != nil {
		return err
	}

	st.EngineState.Index = snap

	for _, p := range ru.providers {
		res, ok := p.(providers.Resumable)
		if !ok {
			continue
		}

		cur, err := res.Cursor()
		if err != nil {
			return fmt.Errorf("cursor of %s: %w", p.Name(), err)
		}

		st.EngineState.Cursors[p.Name()] = cur
	}

	return nil
}

// cloneSnapshot deep-copies s. Index snapshots share their items with the
// live index, which keeps merging after the capture.
func cloneSnapshot(s dedup.Snapshot) (dedup.Snapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return dedup.Snapshot{}, fmt.Errorf("encode index snapshot: %w", err)
	}

	var out dedup.Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return dedup.Snapshot{}, fmt.Errorf("decode index snapshot: %w", err)
	}

	return out, nil
}

// fail pauses the run on classified failures and cancellation. Anything else
// is returned untouched and the last good checkpoint stays on disk.
func (r *Runner) fail(ctx context.Context, ru *run, err error) error {
	switch {
	case ctx.Err() != nil:
		return r.pause(ru, LastError{Kind: KindInterrupted, Message: err.Error()}, err)
	case apperrors.IsProviderScoped(err):
		return r.pause(ru, LastError{
			Kind:     string(apperrors.KindOf(err)),
			Message:  err.Error(),
			Provider: apperrors.ProviderOf(err),
		}, err)
	default:
		ru.logger.Error().Err(err).Msg("Run aborted by unclassified failure")
		return err
	}
}

// pause marks the run as ERROR with the failing keyword still at the head
// of the queue. The engine state, analyzed ids and cursors are those of the
// last completed keyword: whatever the failing keyword merged is discarded and
// searched again on resume.
func (r *Runner) pause(ru *run, lastErr LastError, cause error) error {
	st := ru.state
	if len(st.RemainingKeywords) > 0 {
		st.CurrentKeyword = st.RemainingKeywords[0]
	}

	if err := r.deps.Store.MarkError(st, lastErr); err != nil {
		return errors.Join(cause, fmt.Errorf("pause checkpoint: %w", err))
	}

	observability.RunsPaused.WithLabelValues(string(st.Category), lastErr.Kind).Inc()
	ru.logger.Warn().
		Str(LogFieldKind, lastErr.Kind).
		Str(LogFieldProvider, lastErr.Provider).
		Str(LogFieldKeyword, st.CurrentKeyword).
		Str("error", lastErr.Message).
		Msg("Run paused")

	return fmt.Errorf("%w: %w", apperrors.ErrRunPaused, cause)
}

func providerNames(ps []providers.Provider) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}

	return names
}
