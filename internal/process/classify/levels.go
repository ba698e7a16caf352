package classify

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

//go:embed levels/default.yaml
var levelsFS embed.FS

const embeddedLevels = "levels/default.yaml"

// Level defaults used when a field is absent from the levels file.
const (
	DefaultThreshold    = 0.4
	DefaultMinVotes     = 2
	DefaultMinMargin    = 0.15
	DefaultEntropyCap   = 1.5
	DefaultPerModelMin  = 0.0
	DefaultAbstainLabel = "NO_LABEL"
)

// Level is one classification stage: a label set plus acceptance tunables.
type Level struct {
	ID           string   `yaml:"id"`
	Labels       []string `yaml:"labels"`
	BadLabels    []string `yaml:"bad_labels"`
	HardLabels   []string `yaml:"hard_labels"`
	Threshold    *float64 `yaml:"threshold"`
	MinVotes     *int     `yaml:"min_votes"`
	MinMargin    *float64 `yaml:"min_margin"`
	EntropyCap   *float64 `yaml:"entropy_cap"`
	PerModelMin  *float64 `yaml:"per_model_min"`
	AbstainLabel string   `yaml:"abstain_label"`
}

type levelsFile struct {
	Levels []Level `yaml:"levels"`
}

// LoadLevels reads levels from path, or the embedded default when path is
// empty. Absent tunables are filled with the package defaults, except
// entropy_cap which stays nil so the gate derives it from the label count.
func LoadLevels(path string) ([]Level, error) {
	var (
		data []byte
		err  error
	)

	if path == "" {
		data, err = levelsFS.ReadFile(embeddedLevels)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("read levels: %w", err)
	}

	var f levelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse levels: %w", err)
	}

	if len(f.Levels) == 0 {
		return nil, fmt.Errorf("levels file has no levels: %w", apperrors.ErrInvalidInput)
	}

	for i := range f.Levels {
		l := &f.Levels[i]
		if l.ID == "" {
			l.ID = fmt.Sprintf("%d", i+1)
		}

		if l.Threshold == nil {
			l.Threshold = ptr(DefaultThreshold)
		}

		if l.MinVotes == nil {
			l.MinVotes = ptr(DefaultMinVotes)
		}

		if l.MinMargin == nil {
			l.MinMargin = ptr(DefaultMinMargin)
		}

		if l.PerModelMin == nil {
			l.PerModelMin = ptr(DefaultPerModelMin)
		}

		if l.AbstainLabel == "" {
			l.AbstainLabel = DefaultAbstainLabel
		}
	}

	return f.Levels, nil
}

// IsBad reports whether label is flagged as a negative outcome for the level.
func (l Level) IsBad(label string) bool {
	return contains(l.BadLabels, label)
}

// IsHard reports whether label is eligible for the lexical rescue rule.
func (l Level) IsHard(label string) bool {
	return contains(l.HardLabels, label)
}

// EffectiveThreshold returns the soft-consensus threshold in force.
func (l Level) EffectiveThreshold() float64 {
	return l.threshold()
}

// EffectiveAbstainLabel returns the abstention label in force.
func (l Level) EffectiveAbstainLabel() string {
	return l.abstainLabel()
}

func (l Level) threshold() float64 {
	if l.Threshold == nil {
		return DefaultThreshold
	}

	return *l.Threshold
}

func (l Level) minVotes() int {
	if l.MinVotes == nil {
		return DefaultMinVotes
	}

	return *l.MinVotes
}

func (l Level) minMargin() float64 {
	if l.MinMargin == nil {
		return DefaultMinMargin
	}

	return *l.MinMargin
}

func (l Level) perModelMin() float64 {
	if l.PerModelMin == nil {
		return DefaultPerModelMin
	}

	return *l.PerModelMin
}

func (l Level) abstainLabel() string {
	if l.AbstainLabel == "" {
		return DefaultAbstainLabel
	}

	return l.AbstainLabel
}

func ptr[T any](v T) *T {
	return &v
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}

	return false
}
