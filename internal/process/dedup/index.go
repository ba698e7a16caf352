// Package dedup merges near-identical provider observations into canonical
// items. Matching is lexical: URL forms, title hashes, SimHash LSH bands,
// prefix and bag-of-words signatures, and an optional summary fallback.
package dedup

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	logKeyKey         = "key"
	logKeyDuplicateOf = "duplicate_of"
	logKeyMatchedBy   = "matched_by"
	logKeyHamming     = "hamming"
)

// Match step names, logged with every merge.
const (
	matchExternalID = "external_id"
	matchURL        = "url"
	matchURLSig     = "url_signature"
	matchTitleSHA   = "title_sha"
	matchSimilar    = "title_similarity"
	matchSummary    = "summary_similarity"
	matchTitleKey   = "title_date_domain"
)

// Acceptance thresholds for title candidates.
const (
	nearHammingTokenJ    = 0.72
	nearHammingShingleJ  = 0.86
	tokenOnlyJ           = 0.78
	tokenOnlyShingleJ    = 0.84
	prefixTokenJ         = 0.70
	bagTokenJ            = 0.78
	scoreTokenWeight     = 0.7
	scoreShingleWeight   = 0.6
	scorePrefixBonus     = 0.05
	noCandidateHamming   = simhashBits + 1
	searchedAtTimeLayout = time.RFC3339
)

// Config tunes the matcher. HammingThreshold and SummaryHamming are
// inclusive bounds on the fingerprint distance.
type Config struct {
	Bands             int
	HammingThreshold  int
	DateWindowDays    int
	PrefixK           int
	SummaryFallback   bool
	SummaryHamming    int
	SummaryJaccardMin float64
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		Bands:             4,
		HammingThreshold:  8,
		DateWindowDays:    3,
		PrefixK:           4,
		SummaryFallback:   true,
		SummaryHamming:    12,
		SummaryJaccardMin: 0.70,
	}
}

// Stats reports matcher counters.
type Stats struct {
	Items      int `json:"items"`
	Duplicates int `json:"duplicates"`
}

// Index is the canonical record store. It is safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zerolog.Logger
	now    func() time.Time

	items map[string]*domain.CanonicalItem
	order []string
	pos   map[string]int

	byExternalID map[string]string
	byURL        map[string]string
	byURLSig     map[string]string
	byTitleSHA   map[string]string
	byTitleKey   map[string]string
	simBands     map[string][]string
	prefixes     map[string][]string
	bags         map[string][]string

	duplicates int
}

// NewIndex creates an empty index.
func NewIndex(cfg Config, logger *zerolog.Logger) *Index {
	if cfg.Bands <= 0 {
		cfg = DefaultConfig()
	}

	x := &Index{cfg: cfg, logger: logger, now: time.Now}
	x.reset()

	return x
}

func (x *Index) reset() {
	x.items = make(map[string]*domain.CanonicalItem)
	x.order = nil
	x.pos = make(map[string]int)
	x.byExternalID = make(map[string]string)
	x.byURL = make(map[string]string)
	x.byURLSig = make(map[string]string)
	x.byTitleSHA = make(map[string]string)
	x.byTitleKey = make(map[string]string)
	x.simBands = make(map[string][]string)
	x.prefixes = make(map[string][]string)
	x.bags = make(map[string][]string)
	x.duplicates = 0
}

// fingerprint holds every derived key of one observation.
type fingerprint struct {
	title     string
	url       string
	summary   string
	date      string
	day       time.Time
	dayOK     bool
	year      *int
	extID     string
	normTitle string
	normURL   string
	urlSig    string
	titleKey  string
	titleSHA  string
	titleSim  uint64
	bands     []string
	prefix    string
	bag       string
	tokens    map[string]struct{}
	shingles  map[string]struct{}
}

func (x *Index) fingerprint(obs domain.Observation) fingerprint {
	f := fingerprint{
		title:   strings.TrimSpace(obs.Title),
		url:     strings.TrimSpace(obs.URL),
		summary: strings.TrimSpace(obs.Summary),
		extID:   NormalizeExternalID(obs.ExternalID),
	}

	f.date, f.year = ParseDate(obs.RawDate)
	f.day, f.dayOK = parseDay(f.date)
	f.normTitle = NormalizeTitle(f.title)
	f.normURL = NormalizeURL(f.url)
	f.urlSig = URLSignature(f.url)

	if f.normTitle != "" {
		f.titleKey = f.normTitle + "|" + isoDay(f.date) + "|" + domainOf(f.normURL, obs.Source.Provider)
		f.titleSHA = sha1Hex(f.normTitle)
	}

	if f.title != "" {
		f.titleSim = TitleSimHash(f.title)
		if f.titleSim != 0 {
			f.bands = Bands(f.titleSim, x.cfg.Bands)
		}

		f.prefix = PrefixKey(f.title, x.cfg.PrefixK)
		f.bag = BagSignature(f.title)
		f.tokens = setOf(StrongTokens(f.title))
		f.shingles = CharShingles(f.title)
	}

	return f
}

// Upsert merges obs into the matching canonical item or creates a new one.
// It returns the item key and whether an existing item absorbed obs.
func (x *Index) Upsert(obs domain.Observation) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	f := x.fingerprint(obs)

	key, step := x.match(f)
	if key == "" {
		key = newKey(f, obs)
		if _, exists := x.items[key]; !exists {
			x.insert(key, obs, f)

			return key, false
		}

		step = "new_key_collision"
	}

	x.merge(key, obs, f)

	if x.logger != nil {
		x.logger.Debug().Str(logKeyDuplicateOf, key).Str(logKeyMatchedBy, step).Msg("observation merged")
	}

	return key, true
}

func (x *Index) match(f fingerprint) (string, string) {
	if f.extID != "" {
		if k, ok := x.byExternalID[f.extID]; ok {
			return k, matchExternalID
		}
	}

	if f.normURL != "" {
		if k, ok := x.byURL[f.normURL]; ok {
			return k, matchURL
		}
	}

	if f.urlSig != "" {
		if k, ok := x.byURLSig[f.urlSig]; ok {
			return k, matchURLSig
		}
	}

	if f.titleSHA != "" {
		if k, ok := x.byTitleSHA[f.titleSHA]; ok {
			return k, matchTitleSHA
		}
	}

	if f.titleSim != 0 {
		if k := x.bestTitleCandidate(f); k != "" {
			return k, matchSimilar
		}
	}

	if x.cfg.SummaryFallback && f.summary != "" {
		if k := x.bestSummaryCandidate(f); k != "" {
			return k, matchSummary
		}
	}

	if f.titleKey != "" {
		if k, ok := x.byTitleKey[f.titleKey]; ok {
			return k, matchTitleKey
		}
	}

	return "", ""
}

func (x *Index) candidates(f fingerprint) []string {
	seen := make(map[string]struct{})

	add := func(keys []string) {
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	for _, b := range f.bands {
		add(x.simBands[b])
	}

	if f.prefix != "" {
		add(x.prefixes[f.prefix])
	}

	if f.bag != "" {
		add(x.bags[f.bag])
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}

	sort.Slice(out, func(i, j int) bool { return x.pos[out[i]] < x.pos[out[j]] })

	return out
}

func (x *Index) bestTitleCandidate(f fingerprint) string {
	best, bestHD, bestScore := "", noCandidateHamming, -1.0

	for _, k := range x.candidates(f) {
		it := x.items[k]
		if it == nil {
			continue
		}

		day, ok := parseDay(it.Date)
		if !datesClose(f.day, f.dayOK, day, ok, x.cfg.DateWindowDays) {
			continue
		}

		exSim := it.TitleSimHash
		if exSim == 0 {
			exSim = TitleSimHash(it.Title)
		}

		hd := Hamming(f.titleSim, exSim)
		ngJ := Jaccard(f.tokens, setOf(StrongTokens(it.Title)))
		shJ := Jaccard(f.shingles, CharShingles(it.Title))
		truncated := PrefixTitleEquivalent(f.title, it.Title)
		exPrefix := PrefixKey(it.Title, x.cfg.PrefixK)
		prefixMatch := f.prefix != "" && exPrefix == f.prefix
		bagMatch := f.bag != "" && BagSignature(it.Title) == f.bag

		accept := false

		switch {
		case hd <= x.cfg.HammingThreshold && (truncated || ngJ >= nearHammingTokenJ || shJ >= nearHammingShingleJ):
			accept = true
		case ngJ >= tokenOnlyJ && shJ >= tokenOnlyShingleJ:
			accept = true
		case prefixMatch && (truncated || ngJ >= prefixTokenJ):
			accept = true
		case bagMatch && ngJ >= bagTokenJ:
			accept = true
		}

		if !accept {
			continue
		}

		score := (1.0 - float64(hd)/simhashBits) + scoreTokenWeight*ngJ + scoreShingleWeight*shJ
		if prefixMatch {
			score += scorePrefixBonus
		}

		if hd < bestHD || (hd == bestHD && score > bestScore) {
			best, bestHD, bestScore = k, hd, score
		}
	}

	if best != "" && x.logger != nil {
		x.logger.Debug().Str(logKeyKey, best).Int(logKeyHamming, bestHD).Msg("title candidate accepted")
	}

	return best
}

func (x *Index) bestSummaryCandidate(f fingerprint) string {
	sim := SimHash64(CharNgrams(f.summary, 3))
	if sim == 0 {
		return ""
	}

	toks := summaryTokens(f.summary)
	best, bestHD, bestJ := "", noCandidateHamming, -1.0

	for _, k := range x.order {
		it := x.items[k]

		exSummary := strings.TrimSpace(it.Summary)
		if exSummary == "" {
			continue
		}

		day, ok := parseDay(it.Date)
		if !datesClose(f.day, f.dayOK, day, ok, x.cfg.DateWindowDays) {
			continue
		}

		exSim := it.SummarySimHash
		if exSim == 0 {
			exSim = SimHash64(CharNgrams(exSummary, 3))
		}

		if exSim == 0 {
			continue
		}

		hd := Hamming(sim, exSim)
		j := Jaccard(toks, summaryTokens(exSummary))

		if hd > x.cfg.SummaryHamming || j < x.cfg.SummaryJaccardMin {
			continue
		}

		if hd < bestHD || (hd == bestHD && j > bestJ) {
			best, bestHD, bestJ = k, hd, j
		}
	}

	return best
}

func newKey(f fingerprint, obs domain.Observation) string {
	switch {
	case f.extID != "":
		return f.extID
	case f.normURL != "":
		return f.normURL
	}

	for _, seed := range []string{f.titleKey, f.normTitle, f.url} {
		if seed != "" {
			return "t:" + hash12(seed)
		}
	}

	raw := strings.Join([]string{obs.Title, obs.URL, obs.Summary, obs.RawDate, obs.Source.String()}, "\x1f")

	return "t:" + hash12(raw)
}

func (x *Index) insert(key string, obs domain.Observation, f fingerprint) {
	it := &domain.CanonicalItem{
		Key:        key,
		Sources:    []domain.Source{},
		Title:      f.title,
		Summary:    f.summary,
		Year:       f.year,
		Date:       f.date,
		URL:        f.url,
		ExternalID: strings.TrimSpace(obs.ExternalID),
		Language:   obs.Language,
		SearchedAt: x.now().UTC().Format(searchedAtTimeLayout),
	}

	if obs.Source.Provider != "" {
		it.Sources = append(it.Sources, obs.Source)
	}

	it.NeedsEnrichment = domain.IsPlaceholderSummary(it.Summary)

	x.items[key] = it
	x.pos[key] = len(x.order)
	x.order = append(x.order, key)

	x.indexFingerprint(key, f)
	x.refreshFingerprints(it, f)
}

func (x *Index) merge(key string, obs domain.Observation, f fingerprint) {
	it := x.items[key]

	if obs.Source.Provider != "" && !it.HasSource(obs.Source) {
		it.Sources = append(it.Sources, obs.Source)
	}

	if f.summary != "" && domain.IsPlaceholderSummary(it.Summary) && !domain.IsPlaceholderSummary(f.summary) {
		it.Summary = f.summary
		it.SummarySimHash = 0
	}

	fillString(&it.Title, f.title)
	fillString(&it.URL, f.url)
	fillString(&it.Date, f.date)
	fillString(&it.ExternalID, strings.TrimSpace(obs.ExternalID))
	fillString(&it.Language, obs.Language)

	if it.Year == nil && f.year != nil {
		it.Year = f.year
	}

	it.NeedsEnrichment = domain.IsPlaceholderSummary(it.Summary)

	x.indexFingerprint(key, f)
	x.refreshFingerprints(it, f)
	x.duplicates++
}

func fillString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// indexFingerprint adds the secondary keys of f without overwriting entries
// that already point elsewhere.
func (x *Index) indexFingerprint(key string, f fingerprint) {
	setIfAbsent(x.byExternalID, f.extID, key)
	setIfAbsent(x.byURL, f.normURL, key)
	setIfAbsent(x.byURLSig, f.urlSig, key)
	setIfAbsent(x.byTitleSHA, f.titleSHA, key)
	setIfAbsent(x.byTitleKey, f.titleKey, key)

	for _, b := range f.bands {
		x.simBands[b] = appendUnique(x.simBands[b], key)
	}

	if f.prefix != "" {
		x.prefixes[f.prefix] = appendUnique(x.prefixes[f.prefix], key)
	}

	if f.bag != "" {
		x.bags[f.bag] = appendUnique(x.bags[f.bag], key)
	}
}

func (x *Index) refreshFingerprints(it *domain.CanonicalItem, f fingerprint) {
	if it.TitleSimHash == 0 {
		it.TitleSimHash = f.titleSim
	}

	if it.SummarySimHash == 0 && strings.TrimSpace(it.Summary) != "" {
		it.SummarySimHash = SimHash64(CharNgrams(it.Summary, 3))
	}
}

func setIfAbsent(m map[string]string, k, v string) {
	if k == "" {
		return
	}

	if _, ok := m[k]; !ok {
		m[k] = v
	}
}

func appendUnique(list []string, key string) []string {
	for _, k := range list {
		if k == key {
			return list
		}
	}

	return append(list, key)
}

// ReindexURL points an additional URL (for example a canonical link found
// during enrichment) at an existing item.
func (x *Index) ReindexURL(key, rawURL string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.items[key]; !ok {
		return false
	}

	setIfAbsent(x.byURL, NormalizeURL(rawURL), key)
	setIfAbsent(x.byURLSig, URLSignature(rawURL), key)

	return true
}

// ApplyEnrichment fills a placeholder summary and a missing language of an
// existing item with values found on the item's page.
func (x *Index) ApplyEnrichment(key, summary, language string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	it, ok := x.items[key]
	if !ok {
		return false
	}

	summary = strings.TrimSpace(summary)
	if summary != "" && domain.IsPlaceholderSummary(it.Summary) && !domain.IsPlaceholderSummary(summary) {
		it.Summary = summary
		it.SummarySimHash = SimHash64(CharNgrams(summary, 3))
	}

	fillString(&it.Language, strings.TrimSpace(language))
	it.NeedsEnrichment = domain.IsPlaceholderSummary(it.Summary)

	return !it.NeedsEnrichment
}

// Get returns the item stored under key.
func (x *Index) Get(key string) (*domain.CanonicalItem, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	it, ok := x.items[key]

	return it, ok
}

// Items returns all items in insertion order.
func (x *Index) Items() []*domain.CanonicalItem {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*domain.CanonicalItem, 0, len(x.order))
	for _, k := range x.order {
		out = append(out, x.items[k])
	}

	return out
}

// Keys returns item keys in insertion order.
func (x *Index) Keys() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return append([]string(nil), x.order...)
}

// Len returns the number of canonical items.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.order)
}

// Stats returns the item and merge counters.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return Stats{Items: len(x.order), Duplicates: x.duplicates}
}
