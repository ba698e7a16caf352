package providers

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	NameArxiv = "arXiv"

	arxivBaseURL  = "https://export.arxiv.org/api/query"
	arxivPageSize = 100
	arxivMaxPages = 3
	arxivMethod   = "atom"
	arxivExtNS    = "arxiv"
	arxivExtDOI   = "doi"
	arxivIDPrefix = "arxiv:"
)

var arxivVersion = regexp.MustCompile(`v\d+$`)

// ArxivConfig configures the arXiv Atom API provider.
type ArxivConfig struct {
	BaseURL  string
	PageSize int
	MaxPages int
}

// Arxiv queries the arXiv export API and parses its Atom answer.
type Arxiv struct {
	tracker
	cfg    ArxivConfig
	client *Client
	parser *gofeed.Parser
}

// NewArxiv builds the provider.
func NewArxiv(cfg ArxivConfig, client *Client) *Arxiv {
	if cfg.BaseURL == "" {
		cfg.BaseURL = arxivBaseURL
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = arxivPageSize
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = arxivMaxPages
	}

	return &Arxiv{tracker: newTracker(), cfg: cfg, client: client, parser: gofeed.NewParser()}
}

func (a *Arxiv) Name() string { return NameArxiv }

func (a *Arxiv) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	start := 0
	if next := a.startKeyword(keyword); next != "" {
		if n, err := strconv.Atoi(next); err == nil && n > 0 {
			start = n
		}
	}

	query := "all:" + phrase(keyword) + " AND " + arxivGroup(securityTerms)

	var out []domain.Observation

	for page := 0; page < a.cfg.MaxPages; page++ {
		params := url.Values{
			"search_query": {query},
			"start":        {strconv.Itoa(start)},
			"max_results":  {strconv.Itoa(a.cfg.PageSize)},
			"sortBy":       {"submittedDate"},
			"sortOrder":    {"descending"},
		}

		body, err := a.client.GetBody(ctx, NameArxiv, a.cfg.BaseURL, params, nil)
		if err != nil {
			a.next = strconv.Itoa(start)
			return out, err
		}

		feed, err := a.parser.ParseString(string(body))
		if err != nil {
			a.client.Blocked(a.cfg.BaseURL)
			a.next = strconv.Itoa(start)

			return out, apperrors.NewProviderError(NameArxiv, apperrors.KindBlocked, "unparseable feed: "+preview(body), err)
		}

		if len(feed.Items) == 0 {
			break
		}

		for _, item := range feed.Items {
			id := arxivID(item)
			if !a.markNew(id) {
				continue
			}

			ext := arxivDOI(item)
			if ext == "" && id != "" {
				ext = arxivIDPrefix + id
			}

			out = append(out, domain.Observation{
				Title:      strings.Join(strings.Fields(item.Title), " "),
				URL:        clean(item.Link),
				Summary:    strings.Join(strings.Fields(item.Description), " "),
				RawDate:    feedDate(item),
				ExternalID: ext,
				Source:     domain.Source{Provider: NameArxiv, Method: arxivMethod},
			})
		}

		start += len(feed.Items)

		if len(feed.Items) < a.cfg.PageSize {
			break
		}
	}

	a.next = ""

	return out, nil
}

func arxivGroup(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, "all:"+phrase(t))
	}

	return "(" + strings.Join(parts, " OR ") + ")"
}

// arxivID extracts "2401.01234" from "http://arxiv.org/abs/2401.01234v2".
func arxivID(item *gofeed.Item) string {
	raw := item.GUID
	if raw == "" {
		raw = item.Link
	}

	if idx := strings.Index(raw, "/abs/"); idx >= 0 {
		raw = raw[idx+len("/abs/"):]
	}

	return arxivVersion.ReplaceAllString(strings.TrimSpace(raw), "")
}

func arxivDOI(item *gofeed.Item) string {
	ns, ok := item.Extensions[arxivExtNS]
	if !ok {
		return ""
	}

	for _, ext := range ns[arxivExtDOI] {
		if v := clean(ext.Value); v != "" {
			return v
		}
	}

	return ""
}
