package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	"github.com/lueurxax/incident-crawler/internal/process/classify"
)

type fakeRelevance map[string]domain.RelevanceResult

func (f fakeRelevance) Score(parts ...string) domain.RelevanceResult {
	return f[parts[0]]
}

type fakeIncident map[string]domain.IncidentResult

func (f fakeIncident) Classify(title, _ string) domain.IncidentResult {
	return f[title]
}

// countingIncident records how often the incident filter ran.
type countingIncident struct {
	fakeIncident
	calls int
}

func (c *countingIncident) Classify(title, summary string) domain.IncidentResult {
	c.calls++
	return c.fakeIncident.Classify(title, summary)
}

type fakeClassifier struct {
	results map[string]*domain.ClassificationResult
	err     error
	calls   int
}

func (f *fakeClassifier) Classify(_ context.Context, _ classify.Level, title, _ string) (*domain.ClassificationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	return f.results[title], nil
}

type mockAuditor struct {
	records []domain.DiscardRecord
	err     error
}

func (m *mockAuditor) Record(_ context.Context, rec domain.DiscardRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

type mockSink struct {
	kept []string
}

func (m *mockSink) Keep(_ context.Context, _ domain.Category, normKey string, _ *domain.CanonicalItem) error {
	m.kept = append(m.kept, normKey)
	return nil
}

func year(y int) *int {
	return &y
}

func item(key, title string, y *int) *domain.CanonicalItem {
	return &domain.CanonicalItem{Key: key, Title: title, Summary: "summary text", Year: y}
}

const (
	titleKept      = "BMW hit by ransomware"
	titleOffTopic  = "Toyota unveils logo"
	titleNoIncid   = "CAN bus lab study"
	titleNoReasons = "Vague automotive story"
)

var (
	testRelevance = fakeRelevance{
		titleKept: {Score: 12, Hits: map[string][]string{
			"brands":       {"BMW"},
			"attack_terms": {"ransomware"},
		}},
		titleOffTopic: {Score: 2, Hits: map[string][]string{
			"brands":       {"Toyota"},
			"attack_terms": {"hack"},
		}},
		titleNoIncid:   {Score: 8},
		titleNoReasons: {Score: 5},
	}

	testIncident = fakeIncident{
		titleKept: {Keep: true, Score: 15, Category: "Factory/Plant", Reasons: []string{
			"+3 ransomware: ransomware",
			"+2 company: BMW",
			"+2 ops_impact: production halted",
			"+1 confirmed",
		}},
		titleNoIncid:   {Keep: false, Score: 3, Reasons: []string{"+2 vehicle_tech: can bus", "-3 research"}},
		titleNoReasons: {Keep: false, Score: 0},
	}
)

func newTestPipeline(cfg Config, clf Classifier, auditor Auditor, sinks ...KeepSink) *Pipeline {
	logger := zerolog.Nop()

	cfg.MinYear = 2020
	cfg.MaxYear = 2025

	return New(cfg, Deps{
		Relevance:  testRelevance,
		Incident:   testIncident,
		Classifier: clf,
		Auditor:    auditor,
		Sinks:      sinks,
	}, &logger)
}

func TestRun_Gates(t *testing.T) {
	tests := []struct {
		name        string
		item        *domain.CanonicalItem
		wantGate    string
		wantDecison domain.Decision
		wantReasons []string
		wantAudited bool
	}{
		{
			name:        "missing year",
			item:        item("k1", titleKept, nil),
			wantGate:    domain.GateYear,
			wantDecison: domain.DecisionDrop,
			wantReasons: []string{ReasonYearMissing},
		},
		{
			name:        "year outside window",
			item:        item("k1", titleKept, year(2018)),
			wantGate:    domain.GateYear,
			wantDecison: domain.DecisionDrop,
			wantReasons: []string{"Year 2018 outside 2020..2025"},
		},
		{
			name:        "not automotive",
			item:        item("k2", titleOffTopic, year(2024)),
			wantGate:    domain.GateRelevance,
			wantDecison: domain.DecisionDrop,
			wantReasons: []string{
				"Brand detected: Toyota",
				"Mentions: hack",
				"Insufficient automotive relevance (score=2<4)",
			},
			wantAudited: true,
		},
		{
			name:        "no incident",
			item:        item("k3", titleNoIncid, year(2024)),
			wantGate:    domain.GateIncident,
			wantDecison: domain.DecisionDrop,
			wantReasons: []string{"vehicle_tech: can bus", "research"},
			wantAudited: true,
		},
		{
			name:        "no incident without reasons",
			item:        item("k4", titleNoReasons, year(2024)),
			wantGate:    domain.GateIncident,
			wantDecison: domain.DecisionDrop,
			wantReasons: []string{ReasonNoIncidentEvidence},
			wantAudited: true,
		},
		{
			name:        "kept",
			item:        item("k5", titleKept, year(2024)),
			wantGate:    domain.GateFinal,
			wantDecison: domain.DecisionKeep,
			wantReasons: []string{
				"Brand detected: BMW",
				"Mentions: ransomware",
				"ransomware: ransomware",
				"company: BMW",
				"ops_impact: production halted",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &mockAuditor{}
			p := newTestPipeline(Config{}, nil, auditor)

			res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{tt.item}, NewAnalyzedIDs(nil))
			require.NoError(t, err)

			assert.Equal(t, tt.wantDecison, tt.item.Decision.Decision)
			assert.Equal(t, tt.wantGate, tt.item.Decision.Gate)
			assert.Equal(t, tt.wantReasons, tt.item.Decision.Reasons)
			assert.Equal(t, DefaultRulesVersion, tt.item.Decision.RulesVersion)
			assert.Equal(t, 1, res.Stats.TotalItems)

			if tt.wantAudited {
				require.Len(t, auditor.records, 1)
				assert.Equal(t, tt.wantGate, auditor.records[0].Gate)
				assert.Equal(t, tt.item.Key, auditor.records[0].ItemKey)
				assert.Equal(t, tt.wantReasons, auditor.records[0].Reasons)
			} else {
				assert.Empty(t, auditor.records)
			}
		})
	}
}

func TestRun_Stats(t *testing.T) {
	sink := &mockSink{}
	p := newTestPipeline(Config{}, nil, &mockAuditor{}, sink)

	items := []*domain.CanonicalItem{
		item("a", titleKept, year(2024)),
		item("b", titleOffTopic, year(2024)),
		item("c", titleNoIncid, year(2023)),
		item("d", titleKept, nil),
	}
	items[0].Summary = "No abstract available"

	res, err := p.Run(context.Background(), domain.CategoryNews, items, NewAnalyzedIDs(nil))
	require.NoError(t, err)

	assert.Equal(t, domain.FilterStats{
		TotalItems:          4,
		MissingSummary:      1,
		FilteredByYear:      1,
		FilteredByRelevance: 1,
		FilteredByIncident:  1,
		SavedItems:          1,
	}, res.Stats)

	normKey := "bmw hit by ransomware"
	assert.Contains(t, res.Kept, normKey)
	assert.Equal(t, []string{normKey}, sink.kept)
}

func testLevels() []classify.Level {
	return []classify.Level{{
		ID:           "incident",
		Labels:       []string{"Ransomware", "Research"},
		BadLabels:    []string{"Research"},
		AbstainLabel: classify.DefaultAbstainLabel,
	}}
}

func TestRun_Classification(t *testing.T) {
	t.Run("rejected by a negative label", func(t *testing.T) {
		auditor := &mockAuditor{}
		clf := &fakeClassifier{results: map[string]*domain.ClassificationResult{
			titleKept: {Label: "Research", Score: 0.52, Accepted: true, Rule: classify.RuleHiConf},
		}}
		p := newTestPipeline(Config{ClassificationEnabled: true, Levels: testLevels()}, clf, auditor)
		analyzed := NewAnalyzedIDs(nil)
		it := item("k", titleKept, year(2024))

		res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{it}, analyzed)
		require.NoError(t, err)

		assert.Equal(t, 1, res.Stats.FilteredByAI)
		assert.Equal(t, domain.GateClassification, it.Decision.Gate)
		assert.Equal(t, []string{"Level incident: label=Research score=0.520 thr=0.4", "Negative label"}, it.Decision.Reasons)
		assert.Equal(t, 0, analyzed.Len())

		require.Len(t, auditor.records, 1)
		rec := auditor.records[0]
		assert.Equal(t, "incident", rec.Level)
		assert.Equal(t, []string{"Research"}, rec.BadLabels)
		require.NotNil(t, rec.IncidentScore)
		assert.Equal(t, 15, *rec.IncidentScore)
	})

	t.Run("accepted records are not classified twice", func(t *testing.T) {
		clf := &fakeClassifier{results: map[string]*domain.ClassificationResult{
			titleKept: {Label: "Ransomware", Score: 0.91, Accepted: true, Rule: classify.RuleHiConf},
		}}
		p := newTestPipeline(Config{ClassificationEnabled: true, Levels: testLevels()}, clf, nil)
		analyzed := NewAnalyzedIDs(nil)

		res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{item("k", titleKept, year(2024))}, analyzed)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.SavedItems)
		assert.Equal(t, []string{"bmw hit by ransomware"}, analyzed.List())

		res, err = p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{item("k", titleKept, year(2024))}, analyzed)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.AlreadyAnalyzed)
		assert.Zero(t, res.Stats.SavedItems)
		assert.Equal(t, 1, clf.calls)
	})

	t.Run("classifier failure counts as abstention", func(t *testing.T) {
		clf := &fakeClassifier{err: errors.New("no model")}
		p := newTestPipeline(Config{ClassificationEnabled: true, Levels: testLevels()}, clf, nil)
		it := item("k", titleKept, year(2024))

		res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{it}, NewAnalyzedIDs(nil))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.FilteredByAI)
		assert.Contains(t, it.Decision.Reasons, "AI abstention")
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := newTestPipeline(Config{}, nil, nil)

		_, err := p.Run(ctx, domain.CategoryNews, []*domain.CanonicalItem{item("k", titleKept, year(2024))}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_BelowRedCutoffStopsCascade(t *testing.T) {
	logger := zerolog.Nop()
	auditor := &mockAuditor{}
	sink := &mockSink{}

	// Every later gate would keep this record if it were reached.
	incident := &countingIncident{fakeIncident: fakeIncident{
		titleOffTopic: {Keep: true, Score: 12, Category: "Manufacturer/OEM"},
	}}
	clf := &fakeClassifier{results: map[string]*domain.ClassificationResult{
		titleOffTopic: {Label: "Ransomware", Score: 0.95, Accepted: true, Rule: classify.RuleHiConf},
	}}

	p := New(Config{ClassificationEnabled: true, Levels: testLevels(), MinYear: 2020, MaxYear: 2025}, Deps{
		Relevance:  testRelevance,
		Incident:   incident,
		Classifier: clf,
		Auditor:    auditor,
		Sinks:      []KeepSink{sink},
	}, &logger)

	it := item("k", titleOffTopic, year(2024))
	analyzed := NewAnalyzedIDs([]string{NormKey(domain.CategoryNews, it)})

	res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{it}, analyzed)
	require.NoError(t, err)

	assert.Zero(t, incident.calls)
	assert.Zero(t, clf.calls)
	assert.Nil(t, it.Incident)
	assert.Nil(t, it.Classification)
	require.NotNil(t, it.Relevance)
	assert.Equal(t, 2, it.Relevance.Score)

	assert.Equal(t, domain.GateRelevance, it.Decision.Gate)
	assert.Equal(t, domain.DecisionDrop, it.Decision.Decision)
	assert.Equal(t, 1, res.Stats.FilteredByRelevance)
	assert.Zero(t, res.Stats.FilteredByIncident)
	assert.Zero(t, res.Stats.AlreadyAnalyzed)
	assert.Zero(t, res.Stats.FilteredByAI)
	assert.Zero(t, res.Stats.SavedItems)
	assert.Empty(t, sink.kept)

	require.Len(t, auditor.records, 1)
	assert.Equal(t, domain.GateRelevance, auditor.records[0].Gate)
}

func TestRun_AuditFailureDoesNotStop(t *testing.T) {
	auditor := &mockAuditor{err: errors.New("disk full")}
	p := newTestPipeline(Config{}, nil, auditor)

	res, err := p.Run(context.Background(), domain.CategoryNews, []*domain.CanonicalItem{
		item("a", titleOffTopic, year(2024)),
		item("b", titleKept, year(2024)),
	}, nil)
	require.NoError(t, err)
	assert.Len(t, auditor.records, 1)
	assert.Equal(t, 1, res.Stats.SavedItems)
}

func TestNormKey(t *testing.T) {
	tests := []struct {
		name     string
		category domain.Category
		item     domain.CanonicalItem
		want     string
	}{
		{
			name:     "paper doi",
			category: domain.CategoryPapers,
			item:     domain.CanonicalItem{Key: "x", Title: "A Paper", ExternalID: "https://doi.org/10.1000/ABC"},
			want:     "10.1000/abc",
		},
		{
			name:     "paper without doi",
			category: domain.CategoryPapers,
			item:     domain.CanonicalItem{Key: "x", Title: "A Paper"},
			want:     "a paper",
		},
		{
			name:     "vulnerability id",
			category: domain.CategoryVulnerabilities,
			item:     domain.CanonicalItem{Key: "x", Title: "desc", ExternalID: " cve-2024-0001 "},
			want:     "CVE-2024-0001",
		},
		{
			name:     "news title",
			category: domain.CategoryNews,
			item:     domain.CanonicalItem{Key: "x", Title: "Hackers Hit Kia!", ExternalID: "ignored"},
			want:     "hackers hit kia",
		},
		{
			name:     "store key fallback",
			category: domain.CategoryNews,
			item:     domain.CanonicalItem{Key: "https://a.com/1"},
			want:     "https://a.com/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormKey(tt.category, &tt.item))
		})
	}
}

func TestAnalyzedIDs(t *testing.T) {
	a := NewAnalyzedIDs([]string{"b", "a", "b", ""})
	a.Add("c")
	a.Add("a")

	assert.Equal(t, []string{"b", "a", "c"}, a.List())
	assert.True(t, a.Has("c"))
	assert.False(t, a.Has("z"))

	var none *AnalyzedIDs
	none.Add("x")
	assert.False(t, none.Has("x"))
	assert.Empty(t, none.List())
}
