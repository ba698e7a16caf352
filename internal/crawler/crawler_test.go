package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/ingest"
	"github.com/lueurxax/incident-crawler/internal/platform/config"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/process/pipeline"
	"github.com/lueurxax/incident-crawler/internal/providers"
	db "github.com/lueurxax/incident-crawler/internal/storage"
)

var errBackendDown = errors.New("backend down")

func TestParseKeywords(t *testing.T) {
	content := "# automotive incidents\nransomware automotive\n\n  keyless theft  \r\nransomware automotive\n#telematics\nCAN bus\n"

	assert.Equal(t, []string{"ransomware automotive", "keyless theft", "CAN bus"}, parseKeywords(content))
}

func TestSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"ransomware", "keyless theft"}, SplitKeywords(" ransomware, keyless theft ,,ransomware"))
	assert.Empty(t, SplitKeywords(""))
}

func TestLoadKeywords(t *testing.T) {
	dir := t.TempDir()

	kws, err := LoadKeywords(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, kws)

	path := filepath.Join(dir, "keywords.txt")
	require.NoError(t, os.WriteFile(path, []byte("telematics\n# skip\nECU\n"), 0o600))

	kws, err = LoadKeywords(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"telematics", "ECU"}, kws)
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []domain.Category
		wantErr error
	}{
		{name: "single", in: "news", want: []domain.Category{domain.CategoryNews}},
		{name: "list with repeats", in: "Papers, news,papers", want: []domain.Category{domain.CategoryPapers, domain.CategoryNews}},
		{name: "all", in: "all", want: []domain.Category{domain.CategoryNews, domain.CategoryPapers, domain.CategoryVulnerabilities}},
		{name: "unknown", in: "news,blogs", wantErr: apperrors.ErrUnknownCategory},
		{name: "empty", in: " , ", wantErr: apperrors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategories(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeSource struct {
	progress map[domain.Category]Status
	pingErr  error
}

func (f *fakeSource) Progress() map[domain.Category]Status { return f.progress }

func (f *fakeSource) Ping(context.Context) error { return f.pingErr }

func TestHealthServer(t *testing.T) {
	src := &fakeSource{progress: map[domain.Category]Status{
		domain.CategoryNews: {
			Checkpoint: "state_news_06-05-2024_07-08",
			Status:     ingest.StatusRunning,
			Progress:   ingest.Progress{TotalKeywords: 4, ProcessedKeywords: 1},
			Remaining:  3,
		},
	}}

	hs := NewHealthServer(src, 0)
	h := hs.handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	hs.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	src.pingErr = errBackendDown
	rec := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "backend down")

	rec = get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats["news"].Remaining)
	assert.Equal(t, 1, stats["news"].Progress.ProcessedKeywords)

	assert.Equal(t, http.StatusOK, get("/metrics").Code)
}

var echoHeadlines = map[string]string{
	"bmw":    "BMW plant in Regensburg halted after ransomware attack",
	"toyota": "Toyota suspends domestic production over supplier system failure",
}

// echoProvider returns one record per keyword.
type echoProvider struct{ calls int }

func (e *echoProvider) Name() string { return "Echo" }

func (e *echoProvider) Search(_ context.Context, keyword string) ([]domain.Observation, error) {
	e.calls++

	title, ok := echoHeadlines[keyword]
	if !ok {
		title = "Ransomware hits " + keyword + " supplier"
	}

	return []domain.Observation{{
		Title:   title,
		URL:     "https://news.example.com/" + keyword,
		RawDate: "2024-03-04",
		Source:  domain.Source{Provider: "Echo", Method: "test"},
	}}, nil
}

type keepEverything struct{}

func (keepEverything) Run(_ context.Context, _ domain.Category, items []*domain.CanonicalItem, _ *pipeline.AnalyzedIDs) (pipeline.Result, error) {
	res := pipeline.Result{Kept: make(map[string]*domain.CanonicalItem)}
	for _, it := range items {
		res.Kept[it.Key] = it
	}

	res.Stats.TotalItems = len(items)
	res.Stats.SavedItems = len(items)

	return res, nil
}

func newTestCrawler(t *testing.T) (*Crawler, string, *echoProvider) {
	t.Helper()

	logger := zerolog.Nop()
	dir := t.TempDir()
	store := ingest.NewCheckpointStore(dir, &logger)
	p := &echoProvider{}

	runner := ingest.NewRunner(ingest.Deps{
		Store:     store,
		Providers: func(domain.Category) ([]providers.Provider, error) { return []providers.Provider{p}, nil },
		Cascade:   keepEverything{},
	}, dedup.DefaultConfig(), &logger)

	c := &Crawler{
		cfg:    &config.Config{},
		store:  store,
		runner: runner,
		audit:  db.NewJSONLAuditor(t.TempDir()),
		logger: &logger,
	}

	t.Cleanup(c.Close)

	return c, dir, p
}

func TestCrawler_FreshRunUsesStateName(t *testing.T) {
	c, dir, p := newTestCrawler(t)

	reports, err := c.Run(context.Background(), Options{
		Categories: []domain.Category{domain.CategoryNews},
		Keywords:   []string{"bmw", "toyota"},
		StateName:  "weekly run",
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.Equal(t, "weekly-run", reports[0].Basename)
	assert.Equal(t, ingest.StatusCompleted, reports[0].State.Status)
	assert.Len(t, reports[0].State.Results, 2)
	assert.Equal(t, 2, p.calls)
	assert.FileExists(t, filepath.Join(dir, "news", "weekly-run.json"))

	progress := c.Progress()
	require.Contains(t, progress, domain.CategoryNews)
	assert.Equal(t, ingest.StatusCompleted, progress[domain.CategoryNews].Status)
	assert.Equal(t, 2, progress[domain.CategoryNews].Results)
}

func TestCrawler_ResumeFallsBackToFreshRun(t *testing.T) {
	tests := []struct {
		name     string
		resume   string
		corrupt  bool
		wantName string
	}{
		{name: "missing named checkpoint is created", resume: "nightly", wantName: "nightly"},
		{name: "corrupt checkpoint is left alone", resume: "broken", corrupt: true},
		{name: "latest with nothing saved", resume: ResumeLatest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dir, _ := newTestCrawler(t)

			corruptPath := filepath.Join(dir, "news", tt.resume+".json")
			if tt.corrupt {
				require.NoError(t, os.MkdirAll(filepath.Dir(corruptPath), 0o755))
				require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0o600))
			}

			reports, err := c.Run(context.Background(), Options{
				Categories: []domain.Category{domain.CategoryNews},
				Keywords:   []string{"hyundai"},
				Resume:     tt.resume,
			})
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, ingest.StatusCompleted, reports[0].State.Status)

			if tt.wantName != "" {
				assert.Equal(t, tt.wantName, reports[0].Basename)
			} else {
				assert.NotEqual(t, tt.resume, reports[0].Basename)
			}

			if tt.corrupt {
				data, err := os.ReadFile(corruptPath)
				require.NoError(t, err)
				assert.Equal(t, "{not json", string(data))
			}
		})
	}
}

func TestCrawler_ResumeLatestContinuesCompletedRun(t *testing.T) {
	c, _, p := newTestCrawler(t)

	_, err := c.Run(context.Background(), Options{
		Categories: []domain.Category{domain.CategoryNews},
		Keywords:   []string{"kia"},
		StateName:  "first",
	})
	require.NoError(t, err)
	require.Equal(t, 1, p.calls)

	reports, err := c.Run(context.Background(), Options{
		Categories: []domain.Category{domain.CategoryNews},
		Resume:     ResumeLatest,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.Equal(t, "first", reports[0].Basename)
	assert.Equal(t, 1, p.calls, "a completed run has no keywords left")
	assert.Len(t, reports[0].State.Results, 1)
}

func TestCrawler_CancelledRunStopsRemainingCategories(t *testing.T) {
	c, _, p := newTestCrawler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := c.Run(ctx, Options{
		Categories: []domain.Category{domain.CategoryNews, domain.CategoryPapers},
		Keywords:   []string{"vw"},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
	assert.Zero(t, p.calls)
}
