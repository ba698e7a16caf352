package filters

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

//go:embed lexicons/*.yaml
var lexiconFS embed.FS

const (
	embeddedRelevanceLexicon = "lexicons/relevance.yaml"
	embeddedIncidentLexicon  = "lexicons/incident.yaml"
)

// TermSet holds the Spanish and English variants of one term category.
type TermSet struct {
	ES []string `yaml:"es"`
	EN []string `yaml:"en"`
}

func (t TermSet) all() []string {
	out := make([]string, 0, len(t.ES)+len(t.EN))
	out = append(out, t.ES...)

	return append(out, t.EN...)
}

// RelevanceLexicon is the term configuration of the relevance filter.
type RelevanceLexicon struct {
	Version         string              `yaml:"version"`
	Categories      map[string]TermSet  `yaml:"categories"`
	Protocols       []string            `yaml:"protocols"`
	Standards       []string            `yaml:"standards"`
	NegativeTerms   TermSet             `yaml:"negative_terms"`
	BrandAliases    map[string][]string `yaml:"brand_aliases"`
	SupplierAliases map[string][]string `yaml:"supplier_aliases"`
}

// IncidentBucket is one weighted group of incident patterns.
type IncidentBucket struct {
	Name         string   `yaml:"name"`
	Weight       int      `yaml:"weight"`
	StrictWeight int      `yaml:"strict_weight"`
	ContextOnly  bool     `yaml:"context_only"`
	Patterns     []string `yaml:"patterns"`
}

// IncidentLexicon is the pattern configuration of the incident filter.
type IncidentLexicon struct {
	Version        string           `yaml:"version"`
	Positive       []IncidentBucket `yaml:"positive"`
	Negative       []IncidentBucket `yaml:"negative"`
	Companies      []string         `yaml:"companies"`
	ExactCompanies []string         `yaml:"exact_companies"`
}

// LoadRelevanceLexicon reads a relevance lexicon from path, or the embedded
// default when path is empty.
func LoadRelevanceLexicon(path string) (*RelevanceLexicon, error) {
	var lex RelevanceLexicon
	if err := loadYAML(path, embeddedRelevanceLexicon, &lex); err != nil {
		return nil, err
	}

	if len(lex.Categories) == 0 {
		return nil, fmt.Errorf("relevance lexicon has no categories: %w", apperrors.ErrInvalidInput)
	}

	return &lex, nil
}

// LoadIncidentLexicon reads an incident lexicon from path, or the embedded
// default when path is empty.
func LoadIncidentLexicon(path string) (*IncidentLexicon, error) {
	var lex IncidentLexicon
	if err := loadYAML(path, embeddedIncidentLexicon, &lex); err != nil {
		return nil, err
	}

	if len(lex.Positive) == 0 {
		return nil, fmt.Errorf("incident lexicon has no positive buckets: %w", apperrors.ErrInvalidInput)
	}

	return &lex, nil
}

func loadYAML(path, embedded string, out interface{}) error {
	var (
		data []byte
		err  error
	)

	if path == "" {
		data, err = lexiconFS.ReadFile(embedded)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return fmt.Errorf("read lexicon: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse lexicon %s: %w", lexiconName(path, embedded), err)
	}

	return nil
}

func lexiconName(path, embedded string) string {
	if path != "" {
		return path
	}

	return "embedded " + embedded
}

// alternation compiles terms into a case-insensitive, word-bounded
// alternation. It returns nil for an empty term list.
func alternation(terms []string) (*regexp.Regexp, error) {
	cleaned := make([]string, 0, len(terms))

	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, stripDiacritics(t))
		}
	}

	if len(cleaned) == 0 {
		return nil, nil
	}

	re, err := regexp.Compile(`(?i)\b(` + strings.Join(cleaned, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile term list: %w", err)
	}

	return re, nil
}

// namedPattern matches an entity by its canonical name or any alias.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

func compileNamed(aliases map[string][]string) []namedPattern {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]namedPattern, 0, len(names))

	for _, name := range names {
		alts := uniq(append([]string{}, aliases[name]...))
		sort.Strings(alts)

		quoted := []string{regexp.QuoteMeta(stripDiacritics(name))}
		for _, a := range alts {
			quoted = append(quoted, regexp.QuoteMeta(stripDiacritics(a)))
		}

		out = append(out, namedPattern{
			name: name,
			re:   regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		})
	}

	return out
}
