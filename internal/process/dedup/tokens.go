package dedup

import (
	"regexp"
	"sort"
	"strings"
)

const bagSize = 6

var stopWords = setOf([]string{
	"the", "a", "an", "of", "and", "for", "to", "in", "on", "with", "by", "vs", "was", "is", "are",
	"la", "el", "los", "las", "de", "del", "y", "para", "en", "con", "por", "un", "una", "al", "lo",
})

var compounds = map[[2]string]string{
	{"cyber", "attack"}: "cyberattack",
	{"ransom", "ware"}:  "ransomware",
	{"data", "base"}:    "database",
}

var abbreviations = []struct {
	re  *regexp.Regexp
	rep string
}{
	{regexp.MustCompile(`\bnev\.?\b`), "nevada"},
}

var stemSuffix = regexp.MustCompile(`(ing|ed|es|s)$`)

func softNormalize(raw string) string {
	t := Fold(raw)
	for _, a := range abbreviations {
		t = a.re.ReplaceAllString(t, a.rep)
	}

	t = nonTitleChars.ReplaceAllString(t, " ")

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// StrongTokens returns order-preserving tokens with stop words dropped,
// frequent compounds merged and a light suffix stem applied.
func StrongTokens(raw string) []string {
	words := strings.Fields(softNormalize(raw))
	toks := make([]string, 0, len(words))

	for _, w := range words {
		if len(w) > 2 {
			if _, stop := stopWords[w]; !stop {
				toks = append(toks, w)
			}
		}
	}

	out := make([]string, 0, len(toks))

	for i := 0; i < len(toks); i++ {
		if i+1 < len(toks) {
			if merged, ok := compounds[[2]string{toks[i], toks[i+1]}]; ok {
				out = append(out, merged)
				i++

				continue
			}
		}

		out = append(out, toks[i])
	}

	for i, w := range out {
		out[i] = stemSuffix.ReplaceAllString(w, "")
	}

	return out
}

// BagSignature is an order-insensitive signature: the first six strong tokens
// in sorted order.
func BagSignature(raw string) string {
	toks := StrongTokens(raw)
	if len(toks) == 0 {
		return ""
	}

	sort.Strings(toks)

	if len(toks) > bagSize {
		toks = toks[:bagSize]
	}

	return strings.Join(toks, "|")
}

// PrefixKey joins the first k strong tokens of the normalized title, so
// stop words and plural or tense variants do not split truncated copies.
func PrefixKey(title string, k int) string {
	words := StrongTokens(NormalizeTitle(title))
	if len(words) == 0 {
		return ""
	}

	if len(words) > k {
		words = words[:k]
	}

	return strings.Join(words, "-")
}

func titleWords(s string) []string {
	return wordRe.FindAllString(Fold(s), -1)
}

// PrefixTitleEquivalent detects a truncated title: both word sequences agree
// except the last word of the shorter one, which must be a prefix of the
// corresponding word of the longer one. The compared spans must be at least
// 90% similar and every number of the shorter title must appear in the longer.
func PrefixTitleEquivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	w1, w2 := titleWords(a), titleWords(b)
	if len(w1) < 2 || len(w2) < 2 {
		return false
	}

	short, long := w1, w2
	if len(w1) > len(w2) {
		short, long = w2, w1
	}

	n := len(short)
	for i := 0; i < n-1; i++ {
		if short[i] != long[i] {
			return false
		}
	}

	if !strings.HasPrefix(long[n-1], short[n-1]) {
		return false
	}

	shortJoined := strings.Join(short, " ")
	spanJoined := strings.Join(long[:n], " ")

	// shortJoined is a prefix of spanJoined, so every rune of it matches.
	ratio := 2 * float64(len(shortJoined)) / float64(len(shortJoined)+len(spanJoined))
	if ratio < 0.90 {
		return false
	}

	longNums := make(map[string]struct{})

	for _, w := range long {
		if isDigits(w) {
			longNums[w] = struct{}{}
		}
	}

	for _, w := range short {
		if isDigits(w) {
			if _, ok := longNums[w]; !ok {
				return false
			}
		}
	}

	return true
}

func summaryTokens(s string) map[string]struct{} {
	out := make(map[string]struct{})

	for _, w := range titleWords(s) {
		if len(w) > 3 {
			out[w] = struct{}{}
		}
	}

	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
