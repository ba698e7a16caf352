package enrichment

import (
	"strings"
)

// unfetchableDomains are hosts whose pages never carry an article description
// in their initial HTML: social platforms rendered by JavaScript, link
// shorteners and aggregator redirect pages.
var unfetchableDomains = map[string]bool{
	"twitter.com":   true,
	"x.com":         true,
	"t.co":          true,
	"facebook.com":  true,
	"instagram.com": true,
	"linkedin.com":  true,
	"youtube.com":   true,
	"youtu.be":      true,
	"tiktok.com":    true,
	"reddit.com":    true,
	"t.me":          true,
	"bit.ly":        true,
	"tinyurl.com":   true,
	"ow.ly":         true,

	// Google News article links are JavaScript redirects.
	"news.google.com": true,
}

// DomainFilter decides which hosts the enricher may fetch.
type DomainFilter struct {
	allowlist    map[string]bool
	denylist     map[string]bool
	skipBuiltins bool
}

// NewDomainFilter builds a filter from comma-separated allow and deny lists.
// A non-empty allowlist admits only its domains; otherwise every domain
// outside the denylist is admitted. With skipBuiltins the unfetchable hosts
// above are denied as well.
func NewDomainFilter(allowlist, denylist string, skipBuiltins bool) *DomainFilter {
	return &DomainFilter{
		allowlist:    parseDomainList(allowlist),
		denylist:     parseDomainList(denylist),
		skipBuiltins: skipBuiltins,
	}
}

// IsAllowed reports whether pages of domain may be fetched.
func (f *DomainFilter) IsAllowed(domain string) bool {
	domain = normalizeDomain(domain)
	if domain == "" {
		return false
	}

	if f.skipBuiltins && matchesList(domain, unfetchableDomains) {
		return false
	}

	if len(f.allowlist) > 0 {
		return matchesList(domain, f.allowlist)
	}

	return !matchesList(domain, f.denylist)
}

// matchesList reports an exact or parent-domain match, so "example.com"
// also covers "news.example.com".
func matchesList(domain string, list map[string]bool) bool {
	for d := domain; d != ""; {
		if list[d] {
			return true
		}

		i := strings.IndexByte(d, '.')
		if i < 0 {
			return false
		}

		d = d[i+1:]
	}

	return false
}

func parseDomainList(s string) map[string]bool {
	result := make(map[string]bool)

	for _, domain := range strings.Split(s, ",") {
		if domain = normalizeDomain(domain); domain != "" {
			result[domain] = true
		}
	}

	return result
}

// normalizeDomain lower-cases a host and strips scheme, port, path and "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")

	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}

	if i := strings.LastIndexByte(domain, ':'); i >= 0 {
		domain = domain[:i]
	}

	return strings.TrimPrefix(domain, "www.")
}
