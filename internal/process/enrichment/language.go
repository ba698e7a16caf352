package enrichment

import (
	"strings"
	"unicode"
)

const (
	langEnglish   = "en"
	langSpanish   = "es"
	langGerman    = "de"
	langFrench    = "fr"
	langRussian   = "ru"
	langUkrainian = "uk"

	cyrillicThreshold = 0.3
	latinThreshold    = 0.5
	stopwordRatio     = 0.08
)

// stopwords holds short function words per Latin-script language. A text is
// attributed to the language with the most hits above stopwordRatio.
var stopwords = map[string]map[string]struct{}{
	langEnglish: wordSet("the", "and", "of", "to", "in", "is", "for", "on", "with", "as", "by",
		"from", "at", "that", "this", "be", "are", "was", "were", "has", "have", "will", "its", "it"),
	langSpanish: wordSet("el", "la", "los", "las", "de", "del", "y", "en", "que", "por", "para",
		"con", "una", "un", "es", "se", "al", "su", "como", "más"),
	langGerman: wordSet("der", "die", "das", "und", "ist", "nicht", "mit", "von", "zu", "den",
		"ein", "eine", "auf", "für", "im", "sich"),
	langFrench: wordSet("le", "les", "des", "et", "est", "une", "dans", "pour", "sur", "avec",
		"du", "au", "aux", "pas", "qui", "ce"),
}

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}

	return out
}

// DetectLanguage guesses a two-letter language code from text, or "" if the
// text is too short or ambiguous.
func DetectLanguage(text string) string {
	if text == "" {
		return ""
	}

	latin, cyrillic, total, ukrainian := countScripts(text)
	if total == 0 {
		return ""
	}

	if float64(cyrillic)/float64(total) >= cyrillicThreshold {
		if ukrainian {
			return langUkrainian
		}

		return langRussian
	}

	if float64(latin)/float64(total) < latinThreshold {
		return ""
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return ""
	}

	best, bestHits := "", 0

	for _, lang := range []string{langEnglish, langSpanish, langGerman, langFrench} {
		hits := 0

		for _, w := range words {
			if _, ok := stopwords[lang][w]; ok {
				hits++
			}
		}

		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}

	if bestHits == 0 || float64(bestHits)/float64(len(words)) < stopwordRatio {
		return ""
	}

	return best
}

func countScripts(text string) (latin, cyrillic, total int, ukrainian bool) {
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}

		total++

		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++

			if strings.ContainsRune("іїєґІЇЄҐ", r) {
				ukrainian = true
			}
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}

	return latin, cyrillic, total, ukrainian
}
