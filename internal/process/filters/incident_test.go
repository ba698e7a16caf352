package filters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

func newTestIncident(t *testing.T, mode Mode, scope Scope) *IncidentFilter {
	t.Helper()

	lex, err := LoadIncidentLexicon("")
	require.NoError(t, err)

	f, err := NewIncidentFilter(lex, mode, scope)
	require.NoError(t, err)

	return f
}

func TestIncidentFilter_Classify(t *testing.T) {
	f := newTestIncident(t, ModeStrict, ScopeAutoOnly)

	tests := []struct {
		name         string
		title        string
		summary      string
		wantKeep     bool
		wantScore    int
		wantCategory string
		wantReasons  []string
	}{
		{
			name:         "plant ransomware",
			title:        "BMW hit by ransomware attack, production halted at Munich plant",
			wantKeep:     true,
			wantScore:    15,
			wantCategory: CategoryFactory,
			wantReasons: []string{
				"+6 attack_confirmed: hit by ransomware",
				"+6 ransomware: ransomware",
				"+2 company: bmw",
				"+1 synergy attack_confirmed+auto",
			},
		},
		{
			name:         "research demo",
			title:        "Researchers show how CAN bus could be attacked in a lab study",
			wantKeep:     false,
			wantScore:    3,
			wantCategory: CategoryVehicle,
			wantReasons: []string{
				"+4 targets_auto: can bus",
				"-6 hypothetical: researchers, could, study",
				"± override: hypothetical softened (-1) by automotive evidence",
			},
		},
		{
			name:         "unconfirmed outage is rejected outright",
			title:        "Unconfirmed reports of a Toyota outage",
			wantKeep:     false,
			wantScore:    1,
			wantCategory: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Classify(tt.title, tt.summary)

			assert.Equal(t, tt.wantKeep, got.Keep)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantCategory, got.Category)

			if tt.wantReasons != nil {
				assert.Equal(t, tt.wantReasons, got.Reasons)
			}
		})
	}
}

func TestIncidentFilter_ContextOnlyNegatives(t *testing.T) {
	f := newTestIncident(t, ModeStrict, ScopeAutoOnly)

	got := f.Classify("Global Microsoft outage takes services offline", "")

	assert.False(t, got.Keep)
	assert.Equal(t, 2, got.Score)
	assert.Contains(t, got.Matches, "not_nonauto_outage")
	assert.Contains(t, got.Reasons, "-3 nonauto_outage: microsoft outage takes services offline, global microsoft outage takes services offline")
}

func TestIncidentFilter_ModeWeights(t *testing.T) {
	strict := newTestIncident(t, ModeStrict, ScopeAutoOnly)
	broad := newTestIncident(t, ModeBroad, ScopeAutoOnly)

	assert.Equal(t, 6, strict.hypotheticalWeight())
	assert.Equal(t, 3, broad.hypotheticalWeight())
	assert.Equal(t, 7, ModeStrict.keepMin())
	assert.Equal(t, 6, ModeStandard.keepMin())
	assert.Equal(t, 5, ModeBroad.keepMin())
}

func TestIncidentFilter_CompanyHits(t *testing.T) {
	f := newTestIncident(t, ModeStrict, ScopeAutoOnly)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "possessive", text: "toyota's recall", want: []string{"toyota"}},
		{name: "exact short names", text: "gm trucks and a ram pickup", want: []string{"gm", "ram"}},
		{name: "no partial words", text: "fordham university rampage", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.companyHits(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncidentFilter_MobilityScope(t *testing.T) {
	auto := newTestIncident(t, ModeBroad, ScopeAutoOnly)
	mobility := newTestIncident(t, ModeBroad, ScopeMobility)

	title := "Parking payment app breached"

	assert.Equal(t, CategoryGeneral, auto.Classify(title, "").Category)
	assert.Equal(t, CategoryMobility, mobility.Classify(title, "").Category)
}

func TestParseModeAndScope(t *testing.T) {
	m, err := ParseMode(" Standard ")
	require.NoError(t, err)
	assert.Equal(t, ModeStandard, m)

	_, err = ParseMode("lenient")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	s, err := ParseScope("mobility")
	require.NoError(t, err)
	assert.Equal(t, ScopeMobility, s)

	_, err = ParseScope("rail")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLoadIncidentLexicon_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incident.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: empty\n"), 0o600))

	_, err := LoadIncidentLexicon(path)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
