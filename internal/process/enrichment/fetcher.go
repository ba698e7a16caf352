package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrTooManyRedirects indicates too many HTTP redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrHTTPStatusNotOK indicates an HTTP response with a non-2xx status code.
var ErrHTTPStatusNotOK = errors.New("HTTP status not OK")

// ErrNotHTML indicates a response that is not an HTML page.
var ErrNotHTML = errors.New("response is not HTML")

const (
	defaultFetchTimeout = 10 * time.Second
	maxRedirects        = 5
	globalLimiterBurst  = 5
	maxBodySizeBytes    = 5 * 1024 * 1024
	domainLimiterRate   = 1
	domainLimiterBurst  = 2
	defaultPageAgent    = "Mozilla/5.0 (compatible; incident-crawler/1.0)"
	mimeHTML            = "text/html"
	mimeXHTML           = "application/xhtml+xml"
)

// Page is a fetched HTML document.
type Page struct {
	URL  string
	Body []byte
}

// WebFetcher downloads article pages with a global and a per-domain rate limit.
type WebFetcher struct {
	client         *http.Client
	globalLimiter  *rate.Limiter
	domainLimiters map[string]*rate.Limiter
	mu             sync.RWMutex
	userAgent      string
}

// NewWebFetcher builds a fetcher allowing rps requests per second overall.
func NewWebFetcher(rps float64, timeout time.Duration, userAgent string) *WebFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	if userAgent == "" {
		userAgent = defaultPageAgent
	}

	return &WebFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}

				return nil
			},
		},
		globalLimiter:  rate.NewLimiter(rate.Limit(rps), globalLimiterBurst),
		domainLimiters: make(map[string]*rate.Limiter),
		userAgent:      userAgent,
	}
}

// Fetch downloads rawURL. Only HTML answers with a 2xx status are returned;
// Page.URL is the final URL after redirects.
func (f *WebFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.globalLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("global rate limiter wait: %w", err)
	}

	if err := f.getDomainLimiter(hostOf(rawURL)).Wait(ctx); err != nil {
		return nil, fmt.Errorf("domain rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,es;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatusNotOK, resp.StatusCode)
	}

	ctype := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ctype, mimeHTML) && !strings.Contains(ctype, mimeXHTML) {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, ctype)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	return &Page{URL: final, Body: body}, nil
}

func (f *WebFetcher) getDomainLimiter(domain string) *rate.Limiter {
	f.mu.RLock()
	limiter, exists := f.domainLimiters[domain]
	f.mu.RUnlock()

	if exists {
		return limiter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double check
	if limiter, exists := f.domainLimiters[domain]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(domainLimiterRate, domainLimiterBurst)
	f.domainLimiters[domain] = limiter

	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}
