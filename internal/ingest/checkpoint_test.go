package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()

	logger := zerolog.Nop()
	s := NewCheckpointStore(t.TempDir(), &logger)
	s.now = func() time.Time { return fixedNow }

	return s
}

func TestSanitizeBasename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "run-1", want: "run-1"},
		{in: "my run/../x.json", want: "my-run-..-x"},
		{in: "  spaced name  ", want: "spaced-name"},
		{in: "état*2024", want: "tat-2024"},
		{in: "///", want: ""},
		{in: "v1.2_final", want: "v1.2_final"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeBasename(tt.in))
		})
	}
}

func TestCheckpointStore_Bind(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Path(domain.CategoryNews)
	require.ErrorIs(t, err, apperrors.ErrNoCheckpoint)

	assert.Equal(t, "state_news_06-05-2024_07-08", s.Bind(domain.CategoryNews, ""))
	assert.Equal(t, "weekly-run", s.Bind(domain.CategoryPapers, "weekly run"))

	path, err := s.Path(domain.CategoryPapers)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.dir, "papers", "weekly-run.json"), path)

	s.Bind(domain.CategoryPapers, "other")
	path, err = s.Path(domain.CategoryPapers)
	require.NoError(t, err)
	assert.Equal(t, "other.json", filepath.Base(path))
}

func populatedState(t *testing.T) *RunState {
	t.Helper()

	logger := zerolog.Nop()
	idx := dedup.NewIndex(dedup.DefaultConfig(), &logger)
	idx.Upsert(domain.Observation{
		Title:   "Ransomware halts production at <Tier 1> supplier",
		URL:     "https://news.example.com/a?utm_source=x",
		Summary: "Plants stopped & systems encrypted.",
		RawDate: "2024-03-01",
		Source:  domain.Source{Provider: "GDELT", Method: "doc"},
	})
	idx.Upsert(domain.Observation{
		Title:   "Telematics portal exposed vehicle locations",
		URL:     "https://other.example.org/b",
		RawDate: "2024-03-04",
		Source:  domain.Source{Provider: "NewsAPI", Method: "everything"},
	})

	st := NewRunState(domain.CategoryNews, Params{
		RunID:     "run-1",
		Keywords:  []string{"ransomware", "telematics", "keyless"},
		Providers: []string{"GDELT", "NewsAPI"},
		Enrich:    true,
		StartedAt: fixedNow,
	}, []string{"keyless"})

	st.Cursors["GDELT"] = "telematics"
	st.AnalyzedIDs = []string{"news:a", "news:b"}
	st.EngineState.Index = idx.Snapshot()
	st.EngineState.Cursors["GDELT"] = json.RawMessage(`{"seen":["x"],"keyword":"telematics","next":"20240101000000"}`)
	st.Results["news:a"] = idx.Items()[0]
	st.FilterStats = domain.FilterStats{TotalItems: 2, SavedItems: 1}
	st.Progress.ProcessedKeywords = 2
	st.Progress.TotalKeywords = 3

	return st
}

func TestCheckpointStore_SaveLoadSaveIsStable(t *testing.T) {
	s := newTestStore(t)
	s.Bind(domain.CategoryNews, "stable")

	st := populatedState(t)
	require.NoError(t, s.Save(st))

	path, err := s.Path(domain.CategoryNews)
	require.NoError(t, err)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := s.Load(domain.CategoryNews)
	require.NoError(t, err)

	s.now = func() time.Time { return fixedNow.Add(time.Hour) }
	require.NoError(t, s.Save(loaded))

	second, err := os.ReadFile(path)
	require.NoError(t, err)

	var a, b map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.NotEqual(t, a["last_saved_at"], b["last_saved_at"])

	delete(a, "last_saved_at")
	delete(b, "last_saved_at")
	assert.Equal(t, a, b)

	s.now = func() time.Time { return fixedNow }
	require.NoError(t, s.Save(loaded))

	third, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(third))
}

func TestCheckpointStore_LoadRestoresIndex(t *testing.T) {
	s := newTestStore(t)
	s.Bind(domain.CategoryNews, "")

	st := populatedState(t)
	require.NoError(t, s.Save(st))

	loaded, err := s.Load(domain.CategoryNews)
	require.NoError(t, err)

	logger := zerolog.Nop()
	idx := dedup.NewIndex(dedup.DefaultConfig(), &logger)
	idx.Restore(loaded.EngineState.Index)
	assert.Equal(t, 2, idx.Len())

	key, merged := idx.Upsert(domain.Observation{
		Title:  "Ransomware halts production at Tier 1 supplier",
		URL:    "https://news.example.com/a",
		Source: domain.Source{Provider: "GNews", Method: "search"},
	})
	assert.True(t, merged)
	assert.Equal(t, st.EngineState.Index.Items[0].Key, key)
	assert.Equal(t, []string{"keyless"}, loaded.RemainingKeywords)
	assert.Equal(t, "telematics", loaded.Cursors["GDELT"])
}

func TestCheckpointStore_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "missing file", want: apperrors.ErrNoCheckpoint},
		{name: "garbage", content: "{not json", want: apperrors.ErrCorruptCheckpoint},
		{name: "truncated", content: `{"version": 3, "category": "news", "status": "RUN`, want: apperrors.ErrCorruptCheckpoint},
		{name: "old version", content: `{"version": 2, "category": "news"}`, want: apperrors.ErrCorruptCheckpoint},
		{name: "other category", content: `{"version": 3, "category": "papers"}`, want: apperrors.ErrCorruptCheckpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			s.Bind(domain.CategoryNews, "x")

			if tt.content != "" {
				path, err := s.Path(domain.CategoryNews)
				require.NoError(t, err)
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			}

			_, err := s.Load(domain.CategoryNews)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckpointStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	s.Bind(domain.CategoryVulnerabilities, "cves")

	st, err := s.Init(domain.CategoryVulnerabilities, Params{RunID: "r"}, []string{"can bus", "keyless"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, 2, st.Progress.TotalKeywords)

	patched, err := s.Patch(domain.CategoryVulnerabilities, func(p *RunState) {
		p.CurrentKeyword = "can bus"
	})
	require.NoError(t, err)
	assert.Equal(t, "can bus", patched.CurrentKeyword)

	require.NoError(t, s.MarkError(patched, LastError{Kind: string(apperrors.KindRateLimited), Message: "quota", Provider: "NVD"}))

	loaded, err := s.Load(domain.CategoryVulnerabilities)
	require.NoError(t, err)
	assert.Equal(t, StatusError, loaded.Status)
	require.NotNil(t, loaded.LastError)
	assert.Equal(t, "NVD", loaded.LastError.Provider)
	assert.Equal(t, []string{"can bus", "keyless"}, loaded.RemainingKeywords)

	require.NoError(t, s.MarkCompleted(loaded))

	loaded, err = s.Load(domain.CategoryVulnerabilities)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Nil(t, loaded.LastError)
	assert.Empty(t, loaded.CurrentKeyword)

	entries, err := os.ReadDir(filepath.Join(s.dir, "vulnerabilities"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cves.json", entries[0].Name())

	require.NoError(t, s.Clear(domain.CategoryVulnerabilities))
	require.NoError(t, s.Clear(domain.CategoryVulnerabilities))

	_, err = s.Load(domain.CategoryVulnerabilities)
	assert.ErrorIs(t, err, apperrors.ErrNoCheckpoint)
}

func TestCheckpointStore_Latest(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Latest(domain.CategoryPapers)
	require.ErrorIs(t, err, apperrors.ErrNoCheckpoint)

	dir := filepath.Join(s.dir, "papers")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for i, name := range []string{"older.json", "newer.json", ".tmp_state_123.json", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

		mod := fixedNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	name, err := s.Latest(domain.CategoryPapers)
	require.NoError(t, err)
	assert.Equal(t, "newer", name)
}
