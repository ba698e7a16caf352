package dedup

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is the day-first layout canonical items store dates in.
const DateLayout = "02-01-2006"

const isoDayLayout = "2006-01-02"

// exactLayouts are tried before free-form parsing.
var exactLayouts = []string{DateLayout, "20060102T150405Z", "20060102150405"}

var (
	ellipsisTail  = regexp.MustCompile(`(…|\.{3})\s*$`)
	brandingTail  = regexp.MustCompile(`\s*([-–—|])\s*([^-–—|]{1,60})$`)
	digitRe       = regexp.MustCompile(`\d`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	nonTitleChars = regexp.MustCompile(`[^a-z0-9 ]+`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
	wordRe        = regexp.MustCompile(`[a-z0-9]+`)
	mobileHost    = regexp.MustCompile(`(?i)://(m|amp)\.`)
	ampSegment    = regexp.MustCompile(`(?i)/amp(/|$)`)
	multiSlash    = regexp.MustCompile(`/{2,}`)
	trackingParam = regexp.MustCompile(`(?i)^(utm_|fbclid|gclid|mc_|ref$|ref_src$|trk$|spm$|igshid$|si$)`)
	yearRe        = regexp.MustCompile(`\b(20[0-3][0-9])\b`)
)

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Fold lower-cases s, decomposes it (NFKD), drops combining marks and collapses
// whitespace. Every other normalization in the package starts from it.
func Fold(s string) string {
	if s == "" {
		return ""
	}

	t, _, err := transform.String(transform.Chain(norm.NFKD, stripMarks), s)
	if err != nil {
		t = s
	}

	t = strings.ToLower(t)

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// NormalizeTitle builds the hard title key: trailing ellipsis and short
// branding tails ("Title - Site") removed, diacritics and punctuation stripped,
// whitespace collapsed.
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return ""
	}

	t = ellipsisTail.ReplaceAllString(t, "")

	if m := brandingTail.FindStringSubmatchIndex(t); m != nil {
		tail := strings.TrimSpace(t[m[4]:m[5]])
		if len(strings.Fields(tail)) <= 4 && !digitRe.MatchString(tail) {
			t = strings.TrimRight(t[:m[0]], " \t")
		}
	}

	t = nonTitleChars.ReplaceAllString(Fold(t), "")

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// NormalizeURL lower-cases a URL and strips mobile/AMP variants, tracking
// parameters and the fragment, keeping the path and useful query parameters.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}

	u = mobileHost.ReplaceAllString(u, "://")
	u = ampSegment.ReplaceAllString(u, "/")

	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return strings.ToLower(u)
	}

	var b strings.Builder

	b.WriteString(p.Scheme)
	b.WriteString("://")
	b.WriteString(p.Host)
	b.WriteString(cleanPath(p.EscapedPath()))

	if q := cleanQuery(p.RawQuery); q != "" {
		b.WriteString("?")
		b.WriteString(q)
	}

	return strings.ToLower(b.String())
}

// URLSignature returns host+path of the normalized URL without "www.", so the
// same resource published with different query strings collapses.
func URLSignature(raw string) string {
	n := NormalizeURL(raw)
	if n == "" {
		return ""
	}

	p, err := url.Parse(n)
	if err != nil || p.Host == "" {
		return ""
	}

	return strings.TrimPrefix(p.Host, "www.") + cleanPath(p.EscapedPath())
}

// NormalizeExternalID normalizes DOIs and vulnerability identifiers.
func NormalizeExternalID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if lower == "" {
		return ""
	}

	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		lower = strings.TrimPrefix(lower, prefix)
	}

	return lower
}

func cleanPath(path string) string {
	if path == "" {
		path = "/"
	}

	path = strings.TrimRight(multiSlash.ReplaceAllString(path, "/"), "/")
	if path == "" {
		return "/"
	}

	return path
}

func cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}

	kept := make([]string, 0, 4)

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}

		k, v, _ := strings.Cut(pair, "=")

		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}

		if trackingParam.MatchString(key) {
			continue
		}

		if strings.EqualFold(key, "outputType") && strings.EqualFold(v, "amp") {
			continue
		}

		kept = append(kept, pair)
	}

	return strings.Join(kept, "&")
}

// domainOf returns the registrable domain of a normalized URL, falling back to
// the bare host and then to the provider name.
func domainOf(normURL, provider string) string {
	if normURL != "" {
		if p, err := url.Parse(normURL); err == nil && p.Hostname() != "" {
			host := strings.TrimPrefix(strings.ToLower(p.Hostname()), "www.")
			if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
				return d
			}

			return host
		}
	}

	return strings.ToLower(strings.TrimSpace(provider))
}

// ParseDate turns a provider date in any common format into the canonical
// DD-MM-YYYY form and its year. Unparseable dates fall back to a bare year
// found in the text.
func ParseDate(raw string) (string, *int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	for _, layout := range exactLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y := t.Year()
			return t.Format(DateLayout), &y
		}
	}

	if t, err := dateparse.ParseAny(raw); err == nil {
		y := t.Year()
		return t.Format(DateLayout), &y
	}

	if m := yearRe.FindString(raw); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			return "", &y
		}
	}

	return "", nil
}

func parseDay(date string) (time.Time, bool) {
	if date == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

func isoDay(date string) string {
	t, ok := parseDay(date)
	if !ok {
		return ""
	}

	return t.Format(isoDayLayout)
}

// datesClose never blocks a match on a missing date.
func datesClose(a time.Time, aOK bool, b time.Time, bOK bool, days int) bool {
	if !aOK || !bOK {
		return true
	}

	d := a.Sub(b)
	if d < 0 {
		d = -d
	}

	return d <= time.Duration(days)*24*time.Hour
}
