package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/process/enrichment"
	"github.com/lueurxax/incident-crawler/internal/process/pipeline"
	"github.com/lueurxax/incident-crawler/internal/providers"
)

var errLogicBug = errors.New("logic bug")

// fakeProvider answers from a fixed table and counts calls per keyword.
type fakeProvider struct {
	name    string
	results map[string][]domain.Observation
	errs    map[string]error
	onCall  func(keyword string)
	calls   []string
	offset  int
	resumed json.RawMessage
}

type fakeCursor struct {
	Calls int `json:"calls"`
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, keyword string) ([]domain.Observation, error) {
	f.calls = append(f.calls, keyword)
	if f.onCall != nil {
		f.onCall(keyword)
	}

	return f.results[keyword], f.errs[keyword]
}

func (f *fakeProvider) Cursor() (json.RawMessage, error) {
	return json.Marshal(fakeCursor{Calls: f.offset + len(f.calls)})
}

func (f *fakeProvider) Resume(cursor json.RawMessage) error {
	f.resumed = cursor
	f.offset = 0

	if len(cursor) == 0 {
		return nil
	}

	var c fakeCursor
	if err := json.Unmarshal(cursor, &c); err != nil {
		return err
	}

	f.offset = c.Calls

	return nil
}

var _ providers.Resumable = (*fakeProvider)(nil)

// keepAll keeps every record under its own key.
type keepAll struct {
	runs  int
	items int
}

func (k *keepAll) Run(_ context.Context, _ domain.Category, items []*domain.CanonicalItem, analyzed *pipeline.AnalyzedIDs) (pipeline.Result, error) {
	k.runs++
	k.items = len(items)

	res := pipeline.Result{Kept: make(map[string]*domain.CanonicalItem)}
	res.Stats.TotalItems = len(items)

	for _, it := range items {
		it.Decision = domain.FilterDecision{Decision: domain.DecisionKeep, Gate: domain.GateFinal}
		res.Kept[it.Key] = it
		analyzed.Add(it.Key)
	}

	res.Stats.SavedItems = len(items)

	return res, nil
}

type failingEnricher struct {
	err error
}

func (f failingEnricher) Enrich(context.Context, enrichment.Index) (enrichment.Stats, error) {
	return enrichment.Stats{}, f.err
}

var headlines = map[string][]string{
	"ransomware": {"Ransomware stops engine plant in Saxony", "Dealer group pays extortion demand"},
	"telematics": {"Fleet tracking backend leaked driver routes", "Remote unlock API abused by thieves"},
	"keyless":    {"Relay attack wave hits luxury SUVs", "Police arrest gang using CAN injection kit"},
	"charging":   {"Charging station firmware bricked overnight"},
}

func obs(provider, keyword string) []domain.Observation {
	out := make([]domain.Observation, 0, len(headlines[keyword]))
	for i, title := range headlines[keyword] {
		out = append(out, domain.Observation{
			Title:   title,
			URL:     fmt.Sprintf("https://news.example.com/%s/%d", keyword, i),
			Summary: title + " according to the company.",
			RawDate: "2024-04-0" + fmt.Sprint(i+1),
			Source:  domain.Source{Provider: provider, Method: "test"},
		})
	}

	return out
}

func providerPair() (*fakeProvider, *fakeProvider) {
	a := &fakeProvider{name: "Alpha", results: map[string][]domain.Observation{}, errs: map[string]error{}}
	b := &fakeProvider{name: "Beta", results: map[string][]domain.Observation{}, errs: map[string]error{}}

	for kw := range headlines {
		a.results[kw] = obs("Alpha", kw)
		b.results[kw] = obs("Beta", kw)
	}

	return a, b
}

func newTestRunner(t *testing.T, store *CheckpointStore, cascade Cascade, enricher Enricher, ps ...providers.Provider) *Runner {
	t.Helper()

	logger := zerolog.Nop()

	return NewRunner(Deps{
		Store:     store,
		Providers: func(domain.Category) ([]providers.Provider, error) { return ps, nil },
		Enricher:  enricher,
		Cascade:   cascade,
	}, dedup.DefaultConfig(), &logger)
}

func keys(m map[string]*domain.CanonicalItem) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func TestRunner_CompletesDespiteProviderSkips(t *testing.T) {
	store := newTestStore(t)
	store.Bind(domain.CategoryNews, "full")

	a, b := providerPair()
	b.results["telematics"] = b.results["telematics"][:1]
	b.errs["telematics"] = apperrors.NewProviderError("Beta", apperrors.KindRateLimited, "quota", nil)
	a.errs["keyless"] = apperrors.NewProviderError("Alpha", apperrors.KindBlocked, "captcha", nil)

	cascade := &keepAll{}
	r := newTestRunner(t, store, cascade, nil, a, b)

	rep, err := r.Start(context.Background(), domain.CategoryNews, []string{"ransomware", "telematics", "keyless"}, Params{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ransomware", "telematics", "keyless"}, a.calls)
	assert.Equal(t, []string{"ransomware", "telematics", "keyless"}, b.calls)
	assert.Equal(t, 1, cascade.runs)
	assert.Equal(t, 6, cascade.items)
	assert.Len(t, rep.Kept, 6)
	assert.NotEmpty(t, rep.RunID)

	st, err := store.Load(domain.CategoryNews)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.RemainingKeywords)
	assert.Equal(t, Progress{TotalKeywords: 3, ProcessedKeywords: 3}, st.Progress)
	assert.Equal(t, "keyless", st.Cursors["Beta"])
	assert.Equal(t, "telematics", st.Cursors["Alpha"])
	assert.Equal(t, []string{"Alpha", "Beta"}, st.Params.Providers)
	assert.Len(t, st.AnalyzedIDs, 6)
	assert.Equal(t, 6, st.FilterStats.SavedItems)
	assert.Len(t, st.EngineState.Index.Items, 6)
	assert.JSONEq(t, `{"calls":3}`, string(st.EngineState.Cursors["Alpha"]))

	for _, it := range st.EngineState.Index.Items {
		assert.NotEmpty(t, it.Sources)
	}
}

func TestRunner_UnclassifiedFailureKeepsLastCheckpoint(t *testing.T) {
	store := newTestStore(t)
	store.Bind(domain.CategoryNews, "bug")

	a, b := providerPair()
	b.errs["telematics"] = errLogicBug

	cascade := &keepAll{}
	r := newTestRunner(t, store, cascade, nil, a, b)

	_, err := r.Start(context.Background(), domain.CategoryNews, []string{"ransomware", "telematics", "keyless"}, Params{})
	require.ErrorIs(t, err, errLogicBug)
	assert.NotErrorIs(t, err, apperrors.ErrRunPaused)
	assert.Zero(t, cascade.runs)

	st, err := store.Load(domain.CategoryNews)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, "telematics", st.CurrentKeyword)
	assert.Equal(t, []string{"telematics", "keyless"}, st.RemainingKeywords)
	assert.Equal(t, 1, st.Progress.ProcessedKeywords)
	assert.Len(t, st.EngineState.Index.Items, 2)
}

func TestRunner_ClassifiedFailurePausesRun(t *testing.T) {
	store := newTestStore(t)
	store.Bind(domain.CategoryNews, "paused")

	a, _ := providerPair()
	enricher := failingEnricher{err: apperrors.NewProviderError("pages", apperrors.KindNetwork, "dns", nil)}

	r := newTestRunner(t, store, &keepAll{}, enricher, a)

	_, err := r.Start(context.Background(), domain.CategoryNews, []string{"ransomware"}, Params{Enrich: true})
	require.ErrorIs(t, err, apperrors.ErrRunPaused)
	require.ErrorIs(t, err, apperrors.ErrNetwork)

	st, err := store.Load(domain.CategoryNews)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.LastError)
	assert.Equal(t, string(apperrors.KindNetwork), st.LastError.Kind)
	assert.Equal(t, "pages", st.LastError.Provider)
	assert.Len(t, st.EngineState.Index.Items, 2)
}

func TestRunner_CancelledMidKeywordResumesSameKeyword(t *testing.T) {
	keywords := []string{"ransomware", "telematics", "keyless", "charging"}

	// Uninterrupted reference run.
	refStore := newTestStore(t)
	refStore.Bind(domain.CategoryNews, "ref")

	ra, rb := providerPair()
	ref, err := newTestRunner(t, refStore, &keepAll{}, nil, ra, rb).
		Start(context.Background(), domain.CategoryNews, keywords, Params{})
	require.NoError(t, err)

	// Interrupted run.
	store := newTestStore(t)
	store.Bind(domain.CategoryNews, "interrupted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := providerPair()
	a.onCall = func(kw string) {
		if kw == "keyless" {
			cancel()
		}
	}

	_, err = newTestRunner(t, store, &keepAll{}, nil, a, b).Start(ctx, domain.CategoryNews, keywords, Params{})
	require.ErrorIs(t, err, apperrors.ErrRunPaused)
	require.ErrorIs(t, err, context.Canceled)

	paused, err := store.Load(domain.CategoryNews)
	require.NoError(t, err)
	assert.Equal(t, StatusError, paused.Status)
	assert.Equal(t, KindInterrupted, paused.LastError.Kind)
	assert.Equal(t, []string{"keyless", "charging"}, paused.RemainingKeywords)
	assert.Equal(t, "keyless", paused.CurrentKeyword)

	// Resume with fresh provider instances.
	a2, b2 := providerPair()
	resumed, err := newTestRunner(t, store, &keepAll{}, nil, a2, b2).
		Resume(context.Background(), domain.CategoryNews, "interrupted")
	require.NoError(t, err)

	assert.Equal(t, []string{"keyless", "charging"}, a2.calls)
	assert.JSONEq(t, `{"calls":2}`, string(a2.resumed))
	assert.Equal(t, keys(ref.Kept), keys(resumed.Kept))
	assert.Equal(t, ref.State.Progress, resumed.State.Progress)
	assert.Equal(t, StatusCompleted, resumed.State.Status)
}

func TestRunner_PauseDuringSecondProviderDiscardsPartialKeyword(t *testing.T) {
	keywords := []string{"ransomware", "telematics", "keyless", "charging"}

	refStore := newTestStore(t)
	refStore.Bind(domain.CategoryNews, "ref")

	ra, rb := providerPair()
	ref, err := newTestRunner(t, refStore, &keepAll{}, nil, ra, rb).
		Start(context.Background(), domain.CategoryNews, keywords, Params{})
	require.NoError(t, err)

	store := newTestStore(t)
	store.Bind(domain.CategoryNews, "second-provider")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alpha finishes "keyless", then Beta returns its results and is cancelled.
	a, b := providerPair()
	b.errs["keyless"] = context.Canceled
	b.onCall = func(kw string) {
		if kw == "keyless" {
			cancel()
		}
	}

	_, err = newTestRunner(t, store, &keepAll{}, nil, a, b).Start(ctx, domain.CategoryNews, keywords, Params{})
	require.ErrorIs(t, err, apperrors.ErrRunPaused)
	assert.Equal(t, []string{"ransomware", "telematics", "keyless"}, a.calls)
	assert.Equal(t, []string{"ransomware", "telematics", "keyless"}, b.calls)

	paused, err := store.Load(domain.CategoryNews)
	require.NoError(t, err)
	assert.Equal(t, StatusError, paused.Status)
	assert.Equal(t, []string{"keyless", "charging"}, paused.RemainingKeywords)
	assert.Len(t, paused.EngineState.Index.Items, 4)
	assert.Equal(t, 4, paused.EngineState.Index.Duplicates)
	assert.JSONEq(t, `{"calls":2}`, string(paused.EngineState.Cursors["Alpha"]))
	assert.JSONEq(t, `{"calls":2}`, string(paused.EngineState.Cursors["Beta"]))
	assert.Equal(t, "telematics", paused.Cursors["Alpha"])

	for _, it := range paused.EngineState.Index.Items {
		assert.Len(t, it.Sources, 2)
	}

	a2, b2 := providerPair()
	resumed, err := newTestRunner(t, store, &keepAll{}, nil, a2, b2).
		Resume(context.Background(), domain.CategoryNews, "second-provider")
	require.NoError(t, err)

	got, want := resumed.State, ref.State
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, want.EngineState.Index.Duplicates, got.EngineState.Index.Duplicates)
	assert.Len(t, got.EngineState.Index.Items, len(want.EngineState.Index.Items))
	assert.Equal(t, keys(want.Results), keys(got.Results))
	assert.Equal(t, want.Cursors, got.Cursors)
	assert.Equal(t, want.Progress, got.Progress)
	assert.Equal(t, want.FilterStats, got.FilterStats)

	for name, cur := range want.EngineState.Cursors {
		assert.JSONEq(t, string(cur), string(got.EngineState.Cursors[name]), name)
	}

	for i, it := range want.EngineState.Index.Items {
		assert.Equal(t, it.Key, got.EngineState.Index.Items[i].Key)
		assert.Equal(t, it.Sources, got.EngineState.Index.Items[i].Sources)
	}
}

func TestRunner_ResumeEmptyQueueMakesNoProviderCalls(t *testing.T) {
	store := newTestStore(t)
	store.Bind(domain.CategoryPapers, "done")

	a, _ := providerPair()
	_, err := newTestRunner(t, store, &keepAll{}, nil, a).
		Start(context.Background(), domain.CategoryPapers, []string{"ransomware"}, Params{})
	require.NoError(t, err)

	fresh, _ := providerPair()
	cascade := &keepAll{}

	rep, err := newTestRunner(t, store, cascade, nil, fresh).
		Resume(context.Background(), domain.CategoryPapers, "done")
	require.NoError(t, err)

	assert.Empty(t, fresh.calls)
	assert.Equal(t, 1, cascade.runs)
	assert.Equal(t, 2, cascade.items)
	assert.Equal(t, StatusCompleted, rep.State.Status)
	assert.Len(t, rep.Kept, 2)
}

func TestRunner_ResumeMissingCheckpoint(t *testing.T) {
	store := newTestStore(t)
	a, _ := providerPair()

	_, err := newTestRunner(t, store, &keepAll{}, nil, a).
		Resume(context.Background(), domain.CategoryNews, "nothing-here")
	assert.ErrorIs(t, err, apperrors.ErrNoCheckpoint)
	assert.Empty(t, a.calls)
}

func TestSearcher_SkipsDisabledAndScopedProviders(t *testing.T) {
	logger := zerolog.Nop()
	idx := dedup.NewIndex(dedup.DefaultConfig(), &logger)

	disabled := &fakeProvider{name: "Off", errs: map[string]error{"keyless": apperrors.ErrClientDisabled}}
	a, b := providerPair()
	b.errs["keyless"] = apperrors.NewProviderError("Beta", apperrors.KindMalformedQuery, "bad query", nil)

	s := NewSearcher(domain.CategoryNews, []providers.Provider{disabled, a, b}, idx, &logger)

	stats, err := s.Search(context.Background(), "keyless")
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha"}, stats.Completed)
	require.Len(t, stats.Skipped, 1)
	assert.Equal(t, "Beta", stats.Skipped[0].Provider)
	assert.Equal(t, apperrors.KindMalformedQuery, stats.Skipped[0].Kind)
	assert.Equal(t, 4, stats.Observations)
	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 2, stats.Merged)
	assert.Equal(t, 2, idx.Len())

	for _, it := range idx.Items() {
		assert.Len(t, it.Sources, 2)
	}
}
