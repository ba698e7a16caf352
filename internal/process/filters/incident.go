package filters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

// Mode sets how much evidence the incident filter demands.
type Mode string

const (
	// ModeStrict keeps only incidents with verified operational impact.
	ModeStrict Mode = "strict"
	// ModeStandard also keeps vulnerabilities with a named product or brand.
	ModeStandard Mode = "standard"
	// ModeBroad also keeps keyless thefts and realistic proofs of concept.
	ModeBroad Mode = "broad"
)

// Scope sets which industries count as in scope.
type Scope string

const (
	ScopeAutoOnly Scope = "auto-only"
	ScopeMobility Scope = "mobility"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStrict, ModeStandard, ModeBroad:
		return m, nil
	default:
		return "", fmt.Errorf("incident mode %q: %w", s, apperrors.ErrInvalidInput)
	}
}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeAutoOnly, ScopeMobility:
		return sc, nil
	default:
		return "", fmt.Errorf("incident scope %q: %w", s, apperrors.ErrInvalidInput)
	}
}

func (m Mode) keepMin() int {
	switch m {
	case ModeStrict:
		return 7
	case ModeStandard:
		return 6
	default:
		return 5
	}
}

type compiledBucket struct {
	IncidentBucket
	res []*regexp.Regexp
}

// IncidentFilter scores whether text describes a confirmed, real-world
// automotive cyber incident.
type IncidentFilter struct {
	mode      Mode
	scope     Scope
	version   string
	positive  []compiledBucket
	negative  []compiledBucket
	negWeight map[string]int
	companies []*regexp.Regexp
}

// NewIncidentFilter compiles a lexicon for the given mode and scope.
func NewIncidentFilter(lex *IncidentLexicon, mode Mode, scope Scope) (*IncidentFilter, error) {
	if lex == nil {
		return nil, fmt.Errorf("nil incident lexicon: %w", apperrors.ErrInvalidInput)
	}

	f := &IncidentFilter{
		mode:      mode,
		scope:     scope,
		version:   lex.Version,
		negWeight: make(map[string]int, len(lex.Negative)),
	}

	var err error

	if f.positive, err = compileBuckets(lex.Positive); err != nil {
		return nil, err
	}

	if f.negative, err = compileBuckets(lex.Negative); err != nil {
		return nil, err
	}

	for _, b := range lex.Negative {
		w := b.Weight
		if mode == ModeStrict && b.StrictWeight > 0 {
			w = b.StrictWeight
		}

		f.negWeight[b.Name] = w
	}

	exact := make(map[string]struct{}, len(lex.ExactCompanies))
	for _, c := range lex.ExactCompanies {
		exact[strings.ToLower(c)] = struct{}{}
	}

	for _, c := range lex.Companies {
		name := strings.ToLower(strings.TrimSpace(c))
		if name == "" {
			continue
		}

		f.companies = append(f.companies, companyRegexp(name, exact))
	}

	return f, nil
}

func compileBuckets(buckets []IncidentBucket) ([]compiledBucket, error) {
	out := make([]compiledBucket, 0, len(buckets))

	for _, b := range buckets {
		cb := compiledBucket{IncidentBucket: b}

		for _, p := range b.Patterns {
			re, err := regexp.Compile(`(?i)` + stripDiacritics(p))
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", b.Name, err)
			}

			cb.res = append(cb.res, re)
		}

		out = append(out, cb)
	}

	return out, nil
}

// companyRegexp matches a name as a whole word, optionally followed by a
// plural or possessive suffix. Exact names never take a suffix.
func companyRegexp(name string, exact map[string]struct{}) *regexp.Regexp {
	base := regexp.QuoteMeta(stripDiacritics(name))
	if _, ok := exact[name]; ok {
		return regexp.MustCompile(`(?i)\b(` + base + `)\b`)
	}

	return regexp.MustCompile(`(?i)(?:^|[^a-z])(` + base + `)(?:'s|’s|s)?(?:[^a-z]|$)`)
}

// Version identifies the lexicon revision.
func (f *IncidentFilter) Version() string {
	return f.version
}

// Mode returns the configured mode.
func (f *IncidentFilter) Mode() Mode {
	return f.mode
}

func (f *IncidentFilter) hypotheticalWeight() int {
	return f.negativeWeight(negHypothetical)
}

func (f *IncidentFilter) negativeWeight(name string) int {
	return f.negWeight[name]
}

// Classify scores title and summary. Keep is set only when the score reaches
// the effective threshold with a strong signal and automotive context.
func (f *IncidentFilter) Classify(title, summary string) domain.IncidentResult {
	t := foldText(title + " " + summary)
	matches := make(map[string][]string)

	var (
		reasons []string
		score   int
	)

	s := &signals{matches: matches, autoContext: autoContextRe.MatchString(t)}

	for _, b := range f.positive {
		hits := bucketHits(b.res, t)
		if len(hits) == 0 {
			continue
		}

		matches[b.Name] = hits
		score += b.Weight
		reasons = append(reasons, fmt.Sprintf("+%d %s: %s", b.Weight, b.Name, truncatedList(hits, bucketShown)))
	}

	if companies := f.companyHits(t); len(companies) > 0 {
		matches[bucketCompany] = companies
		score += companyWeight
		reasons = append(reasons, fmt.Sprintf("+%d %s: %s", companyWeight, bucketCompany, truncatedList(companies, companyShown)))
		s.autoContext = true
	}

	var deferred []compiledBucket

	for _, b := range f.negative {
		hits := bucketHits(b.res, t)
		if len(hits) == 0 {
			continue
		}

		matches[negPrefix+b.Name] = hits

		if b.ContextOnly {
			deferred = append(deferred, b)
			continue
		}

		w := f.negWeight[b.Name]
		score -= w
		reasons = append(reasons, fmt.Sprintf("-%d %s: %s", w, b.Name, truncatedList(hits, bucketShown)))
	}

	if !s.autoContext {
		for _, b := range deferred {
			w := f.negWeight[b.Name]
			score -= w
			reasons = append(reasons, fmt.Sprintf("-%d %s: %s", w, b.Name, truncatedList(matches[negPrefix+b.Name], bucketShown)))
		}
	}

	s.portalHit = s.has(bucketPortalAbuse) || portalRe.MatchString(t)
	s.remoteHit = s.has(bucketRemoteControl) || remoteRe.MatchString(t)
	s.brandTarget = s.hasAny(bucketCompany, bucketTargetsAuto)
	s.exploitLike = exploitLikeRe.MatchString(t)
	s.keylessLike = keylessLikeRe.MatchString(t)
	s.plantOrOps = plantOrOpsRe.MatchString(t)

	score, reasons = f.apply(overrideRules, s, score, reasons)
	score, reasons = f.apply(synergyRules, s, score, reasons)

	strong := strongSignal(s)

	if strong && s.has(negPrefix+negRoundup) {
		score += f.negativeWeight(negRoundup)
		reasons = append(reasons, "± override: roundup_structure neutralized by strong signal")
	}

	if s.hasAny(negPrefix+negUnconfirmed, negPrefix+negDenialNoImpact) && !strong {
		return domain.IncidentResult{Score: score, Reasons: reasons, Matches: matches}
	}

	keepMin := f.mode.keepMin()
	for _, r := range thresholdRules {
		if r.when(s) {
			keepMin = max(keepMinFloor, keepMin-r.relief)
		}
	}

	borderline := score >= keepMin-1 && s.autoContext && s.brandTarget && (s.keylessLike || s.portalHit || s.remoteHit)
	if !strong && borderline {
		strong = true
		reasons = append(reasons, "override: borderline (brand + auto action) treated as strong signal")
	}

	return domain.IncidentResult{
		Keep:     score >= keepMin && strong && s.autoContext,
		Score:    score,
		Category: f.category(t, s),
		Reasons:  reasons,
		Matches:  matches,
	}
}

func (f *IncidentFilter) apply(rules []adjustment, s *signals, score int, reasons []string) (int, []string) {
	fired := make(map[string]bool)

	for _, r := range rules {
		if r.group != "" && fired[r.group] {
			continue
		}

		if !r.when(s) {
			continue
		}

		if r.group != "" {
			fired[r.group] = true
		}

		score += r.delta(f)
		reasons = append(reasons, r.reason)
	}

	return score, reasons
}

func (f *IncidentFilter) category(t string, s *signals) string {
	for _, r := range categoryLadder {
		if r.mobilityOnly && f.scope != ScopeMobility {
			continue
		}

		if r.re.MatchString(t) {
			return r.category
		}
	}

	if s.has(bucketInsider) {
		return CategoryInsider
	}

	return CategoryGeneral
}

func (f *IncidentFilter) companyHits(t string) []string {
	var out []string

	for _, re := range f.companies {
		for _, m := range re.FindAllStringSubmatch(t, -1) {
			out = append(out, m[1])
		}
	}

	return uniq(out)
}

func bucketHits(res []*regexp.Regexp, t string) []string {
	var out []string
	for _, re := range res {
		out = append(out, re.FindAllString(t, -1)...)
	}

	return uniq(out)
}
