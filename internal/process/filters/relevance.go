// Package filters implements the two lexical gates of the filter cascade:
// a relevance scorer ("is this about automotive cybersecurity") and an
// incident scorer ("is this a confirmed, operational, real-world event").
package filters

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// Default traffic-light cutoffs of the relevance score.
const (
	DefaultRedCutoff   = 4
	DefaultGreenCutoff = 9
)

// Hit categories.
const (
	CatAttack        = "attack_terms"
	CatVuln          = "vuln_terms"
	CatAutomotive    = "automotive_terms"
	CatManufacturing = "manufacturing_terms"
	CatVectors       = "attack_vectors"
	CatProtocols     = "protocols"
	CatStandards     = "standards"
	CatOutcomes      = "outcomes"
	CatCVE           = "CVE"
	CatCWE           = "CWE"
	CatBrands        = "brands"
	CatSuppliers     = "suppliers"
	CatRetail        = "retail"
	CatAutoActions   = "auto_actions"
	CatPortalStrict  = "portal_strict"
	CatTelematics    = "telematics_portal"
)

const (
	tagNegatives = "negatives"
	tagNotes     = "notes"
	tagDomain    = "domain"
	tagProximity = "proximity"

	noteOnlyBrand        = "only_brand"
	noteManufacturingOne = "manufacturing_alone"
	negAutonomousNonAuto = "autonomous_nonauto"
)

// Relevance weights.
const (
	wAttack       = 4
	wVuln         = 3
	wOutcomes     = 3
	wCVE          = 1
	wCWE          = 1
	wVectors      = 1
	wAutomotive   = 4
	wManufacturer = 3
	wProtocols    = 2
	wStandards    = 1
	wBrandUnit    = 2
	wSupplierUnit = 1
	wRetail       = 1
	wAutoActions  = 4
	wPortalStrict = 3
	wTelematics   = 3
	wProxShort    = 3
	wProxMid      = 1
	wNegPerHit    = 2
	capNegative   = 6
	capBrands     = 4
	capSuppliers  = 3
	penOnlyBrand  = 3
	penManufAlone = 2

	proxShortChars = 80
	proxMidChars   = 160
)

var (
	cveRe              = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d+\b`)
	cweRe              = regexp.MustCompile(`(?i)\bCWE-\d+\b`)
	canStrictRe        = regexp.MustCompile(`(?i)\bcan(?:\s*bus|\s*fd|\s*xl|\s*network|[-\s]*bus)\b`)
	mostAcronymRe      = regexp.MustCompile(`(?:^|[^A-Za-z])MOST(?:[^a-z]|$)`)
	mostExpandedRe     = regexp.MustCompile(`(?i)media\s+oriented\s+systems?\s+transport|most\s*(?:bus|25|150)`)
	vinStrictRe        = regexp.MustCompile(`(?i)\bVIN\b|\bvehicle\s+identification\s+number\b`)
	evseAmbiguousRe    = regexp.MustCompile(`(?i)\b(charge\s*points?|charging\s*points?)\b`)
	portalStrictRe     = regexp.MustCompile(`(?i)\b(?:owner|customer|dealer|admin)\s+portal\b`)
	telematicsPortalRe = regexp.MustCompile(`(?i)\b(connected\s*drive|car[-\s]*net|uconnect|onstar|mercedes\s*me|ford\s*pass|kia\s*connect|nissan\s*connect|` +
		`my\s*subaru|mysubaru|hondalink|acuralink|incontrol|we\s*connect|starlink\s*app|xm\s*guardian|sirius\s*xm)\b`)
	autoActionsRe = regexp.MustCompile(`(?i)\b(remote(?:ly)?\s+(?:start|unlock|lock|open|close|track|control)|start\s+(?:engine|car)|unlock\s+(?:door|car)s?|` +
		`immobiliz(?:e|er)|kill\s*switch|precondition(?:ing)?|flash(?:\s+lights)?|horn|honk)\b`)
	autonomousNonAutoRe = regexp.MustCompile(`(?i)\bautonomous\s+(?:region|community|city|island|territory|zone|district)\b`)
	positionTokenRe     = regexp.MustCompile(`^[A-Za-z0-9\-_/]+$`)
)

// ambiguousEntities are short names that collide with common words; they only
// count when their context pattern or an automotive/protocol term matches.
var ambiguousEntities = map[string]*regexp.Regexp{
	"ram":  regexp.MustCompile(`(?i)\bRAM\s*(?:1500|2500|3500|TRX|truck|pickup|trucks)\b`),
	"mini": regexp.MustCompile(`(?i)\bMINI\s+(?:Cooper|Countryman|Electric)\b`),
	"seat": regexp.MustCompile(`(?i)\bSEAT\b|\bCupra\b`),
	"ford": regexp.MustCompile(`(?i)\bFord\s+(?:Motor|F-?\d{2,3}|Bronco|Mustang|Ranger|Explorer|Transit)\b`),
	"fiat": regexp.MustCompile(`(?i)\bFIAT\s?(?:500|Panda|Tipo|Doblo|Egea|PULSE|Toro)\b`),
	"abb":  regexp.MustCompile(`(?i)\bABB\b.*\b(charger|evse|ocpp|terra|robot|robotics)\b`),
}

var retailTerms = map[string]struct{}{"dealership": {}, "dealer": {}, "dealers": {}}

// extraSuppliers are always tracked, whatever the lexicon says.
var extraSuppliers = []string{"SiriusXM", "XM Guardian"}

// RelevanceFilter scores free text for automotive cybersecurity relevance.
type RelevanceFilter struct {
	version   string
	terms     map[string]*regexp.Regexp
	negative  *regexp.Regexp
	brands    []namedPattern
	suppliers []namedPattern
}

// NewRelevanceFilter compiles a lexicon.
func NewRelevanceFilter(lex *RelevanceLexicon) (*RelevanceFilter, error) {
	if lex == nil {
		return nil, fmt.Errorf("nil relevance lexicon")
	}

	f := &RelevanceFilter{version: lex.Version, terms: make(map[string]*regexp.Regexp)}

	sources := map[string][]string{
		CatProtocols: lex.Protocols,
		CatStandards: lex.Standards,
	}

	for _, cat := range []string{CatAttack, CatVuln, CatAutomotive, CatManufacturing, CatVectors, CatOutcomes} {
		sources[cat] = lex.Categories[cat].all()
	}

	for cat, terms := range sources {
		re, err := alternation(terms)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat, err)
		}

		f.terms[cat] = re
	}

	neg, err := alternation(lex.NegativeTerms.all())
	if err != nil {
		return nil, fmt.Errorf("negative terms: %w", err)
	}

	f.negative = neg

	suppliers := make(map[string][]string, len(lex.SupplierAliases)+len(extraSuppliers))
	for k, v := range lex.SupplierAliases {
		suppliers[k] = v
	}

	for _, s := range extraSuppliers {
		if _, ok := suppliers[s]; !ok {
			suppliers[s] = nil
		}
	}

	f.brands = compileNamed(lex.BrandAliases)
	f.suppliers = compileNamed(suppliers)

	return f, nil
}

// Version identifies the lexicon revision.
func (f *RelevanceFilter) Version() string {
	return f.version
}

// Score evaluates the concatenation of the given text parts.
func (f *RelevanceFilter) Score(parts ...string) domain.RelevanceResult {
	t := stripDiacritics(joinText(parts...))
	hits := make(map[string][]string)
	tags := make(map[string][]string)

	autonomousNonAuto := autonomousNonAutoRe.MatchString(t)
	if autonomousNonAuto {
		tags[tagNegatives] = []string{negAutonomousNonAuto}
	}

	for _, cat := range []string{CatAttack, CatVuln, CatAutomotive, CatManufacturing, CatVectors, CatProtocols, CatStandards, CatOutcomes} {
		addSorted(hits, cat, f.terms[cat], t)
	}

	addSorted(hits, CatCVE, cveRe, t)
	addSorted(hits, CatCWE, cweRe, t)

	if p, ok := hits[CatProtocols]; ok {
		if refined := refineProtocols(t, p); len(refined) > 0 {
			hits[CatProtocols] = refined
		} else {
			delete(hits, CatProtocols)
		}
	}

	splitRetail(hits)

	if b := matchNamed(f.brands, t); len(b) > 0 {
		hits[CatBrands] = b
	}

	if s := matchNamed(f.suppliers, t); len(s) > 0 {
		hits[CatSuppliers] = s
	}

	f.disambiguate(t, hits, CatBrands)
	f.disambiguate(t, hits, CatSuppliers)

	for cat, re := range map[string]*regexp.Regexp{CatAutoActions: autoActionsRe, CatPortalStrict: portalStrictRe, CatTelematics: telematicsPortalRe} {
		if m := re.FindString(t); m != "" {
			hits[cat] = []string{m}
		}
	}

	score, manufAlone := baseScore(hits)

	prox := proximityBonus(t, collect(hits, CatAttack, CatVuln, CatOutcomes),
		collect(hits, CatAutomotive, CatProtocols, CatBrands, CatManufacturing, CatSuppliers))
	if prox > 0 {
		score += prox
		tags[tagProximity] = []string{strconv.Itoa(prox) + "pts"}
	}

	var negHits []string
	if f.negative != nil {
		negHits = f.negative.FindAllString(t, -1)
	}

	if len(negHits) > 0 || autonomousNonAuto {
		total := len(negHits)
		if autonomousNonAuto {
			total++
		}

		score -= min(capNegative, wNegPerHit*total)
		tags[tagNegatives] = sortedSet(append(tags[tagNegatives], negHits...))
	}

	if has(hits, CatBrands) && !hasAny(hits, CatAutomotive, CatProtocols, CatAttack, CatVuln, CatOutcomes, CatAutoActions, CatTelematics, CatPortalStrict) {
		score -= penOnlyBrand
		tags[tagNotes] = append(tags[tagNotes], noteOnlyBrand)
	}

	if manufAlone {
		score -= penManufAlone
		tags[tagNotes] = append(tags[tagNotes], noteManufacturingOne)
	}

	if bucket := domainBucket(hits); len(bucket) > 0 {
		tags[tagDomain] = bucket
	}

	for _, cat := range []string{CatProtocols, CatVectors, CatStandards, CatOutcomes, CatAutoActions, CatTelematics, CatPortalStrict} {
		if v, ok := hits[cat]; ok {
			tags[cat] = v
		}
	}

	return domain.RelevanceResult{Score: score, Hits: hits, Tags: tags}
}

// Light classifies a score as "red", "amber" or "green".
func Light(score, red, green int) string {
	switch {
	case score < red:
		return "red"
	case score >= green:
		return "green"
	default:
		return "amber"
	}
}

func baseScore(hits map[string][]string) (int, bool) {
	score := 0

	for cat, w := range map[string]int{
		CatAttack: wAttack, CatVuln: wVuln, CatOutcomes: wOutcomes, CatCVE: wCVE, CatCWE: wCWE, CatVectors: wVectors,
		CatAutomotive: wAutomotive, CatProtocols: wProtocols, CatStandards: wStandards, CatRetail: wRetail,
		CatAutoActions: wAutoActions, CatPortalStrict: wPortalStrict, CatTelematics: wTelematics,
	} {
		if has(hits, cat) {
			score += w
		}
	}

	manufAlone := false

	if has(hits, CatManufacturing) {
		if hasAny(hits, CatAutomotive, CatBrands, CatProtocols) {
			score += wManufacturer
		} else {
			score += max(1, wManufacturer-2)
			manufAlone = true
		}
	}

	if b := hits[CatBrands]; len(b) > 0 {
		score += min(capBrands, wBrandUnit*len(b))
	}

	if s := hits[CatSuppliers]; len(s) > 0 {
		score += min(capSuppliers, wSupplierUnit*len(s))
	}

	return score, manufAlone
}

func refineProtocols(t string, values []string) []string {
	out := make([]string, 0, len(values))

	for _, v := range values {
		switch strings.ToLower(v) {
		case "can":
			if canStrictRe.MatchString(t) {
				out = append(out, "CAN bus")
			}

			continue
		case "most":
			if mostAcronymRe.MatchString(t) || mostExpandedRe.MatchString(t) {
				out = append(out, "MOST")
			}

			continue
		case "vin":
			if vinStrictRe.MatchString(t) {
				out = append(out, "VIN")
			}

			continue
		}

		if evseAmbiguousRe.MatchString(v) {
			continue
		}

		out = append(out, v)
	}

	return uniq(out)
}

func splitRetail(hits map[string][]string) {
	m := hits[CatManufacturing]
	if len(m) == 0 {
		return
	}

	var kept, retail []string

	for _, v := range m {
		if _, ok := retailTerms[strings.ToLower(v)]; ok {
			retail = append(retail, v)
		} else {
			kept = append(kept, v)
		}
	}

	if len(retail) == 0 {
		return
	}

	hits[CatRetail] = uniq(append(hits[CatRetail], retail...))

	if len(kept) == 0 {
		delete(hits, CatManufacturing)
	} else {
		hits[CatManufacturing] = kept
	}
}

func (f *RelevanceFilter) disambiguate(t string, hits map[string][]string, cat string) {
	names, ok := hits[cat]
	if !ok {
		return
	}

	kept := make([]string, 0, len(names))

	for _, name := range names {
		rule, ambiguous := ambiguousEntities[strings.ToLower(name)]
		if !ambiguous || rule.MatchString(t) || matches(f.terms[CatAutomotive], t) || matches(f.terms[CatProtocols], t) {
			kept = append(kept, name)
		}
	}

	if len(kept) > 0 {
		hits[cat] = uniq(kept)
	} else {
		delete(hits, cat)
	}
}

func domainBucket(hits map[string][]string) []string {
	var bucket []string

	if has(hits, CatManufacturing) {
		bucket = append(bucket, "factory")
	}

	if has(hits, CatBrands) {
		bucket = append(bucket, "vehicle")
	}

	if has(hits, CatSuppliers) {
		bucket = append(bucket, "supplier")
	}

	if has(hits, CatRetail) {
		bucket = append(bucket, "retail")
	}

	if len(bucket) == 0 && has(hits, CatAutomotive) {
		bucket = append(bucket, "vehicle")
	}

	return bucket
}

// proximityBonus rewards a cyber term appearing close to an automotive term.
func proximityBonus(t string, cyber, auto []string) int {
	if len(cyber) == 0 || len(auto) == 0 {
		return 0
	}

	pa, pb := positions(t, cyber), positions(t, auto)
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}

	best := -1

	for _, a := range pa {
		for _, b := range pb {
			d := a - b
			if d < 0 {
				d = -d
			}

			if best < 0 || d < best {
				best = d
			}
		}
	}

	switch {
	case best <= proxShortChars:
		return wProxShort
	case best <= proxMidChars:
		return wProxMid
	default:
		return 0
	}
}

func positions(t string, terms []string) []int {
	var out []int

	for _, term := range terms {
		token := strings.TrimSpace(term)
		if token == "" {
			continue
		}

		pattern := `(?i)` + regexp.QuoteMeta(token)
		if positionTokenRe.MatchString(token) {
			pattern = `(?i)\b` + regexp.QuoteMeta(token) + `\b`
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}

		for _, loc := range re.FindAllStringIndex(t, -1) {
			out = append(out, loc[0])
		}
	}

	return out
}

func matchNamed(patterns []namedPattern, t string) []string {
	var out []string

	for _, p := range patterns {
		if p.re.MatchString(t) {
			out = append(out, p.name)
		}
	}

	return out
}

func addSorted(hits map[string][]string, cat string, re *regexp.Regexp, t string) {
	if re == nil {
		return
	}

	if found := re.FindAllString(t, -1); len(found) > 0 {
		hits[cat] = sortedSet(found)
	}
}

func sortedSet(values []string) []string {
	out := uniq(values)
	sort.Strings(out)

	return out
}

func collect(hits map[string][]string, cats ...string) []string {
	var out []string
	for _, c := range cats {
		out = append(out, hits[c]...)
	}

	return out
}

func matches(re *regexp.Regexp, t string) bool {
	return re != nil && re.MatchString(t)
}

func has(hits map[string][]string, cat string) bool {
	return len(hits[cat]) > 0
}

func hasAny(hits map[string][]string, cats ...string) bool {
	for _, c := range cats {
		if has(hits, c) {
			return true
		}
	}

	return false
}
