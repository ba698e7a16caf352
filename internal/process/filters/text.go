package filters

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// stripDiacritics removes combining marks and collapses whitespace, keeping
// case. Lexicon patterns go through the same transform so accented terms and
// accented text meet on ASCII word boundaries.
func stripDiacritics(s string) string {
	if s == "" {
		return ""
	}

	t, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		t = s
	}

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// foldText is stripDiacritics plus Unicode case folding.
func foldText(s string) string {
	return cases.Fold().String(stripDiacritics(s))
}

// joinText joins the non-empty parts with a single space.
func joinText(parts ...string) string {
	kept := make([]string, 0, len(parts))

	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}

	return strings.Join(kept, " ")
}

// uniq keeps the first occurrence of each value.
func uniq(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))

	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

func truncatedList(values []string, limit int) string {
	if len(values) <= limit {
		return strings.Join(values, ", ")
	}

	return strings.Join(values[:limit], ", ") + "…"
}
