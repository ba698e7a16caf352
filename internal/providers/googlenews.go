package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	NameGoogleNews = "GoogleNews"

	googleNewsBaseURL = "https://news.google.com/rss/search"
	googleNewsSince   = "after:2020-01-01"
	titleSourceSep    = " - "
)

// GoogleNewsConfig configures the Google News RSS provider.
type GoogleNewsConfig struct {
	BaseURL  string
	Language string
	Country  string
}

// GoogleNews reads the Google News search RSS feed. The feed has no paging.
type GoogleNews struct {
	tracker
	cfg    GoogleNewsConfig
	client *Client
	parser *gofeed.Parser
}

// NewGoogleNews builds the provider.
func NewGoogleNews(cfg GoogleNewsConfig, client *Client) *GoogleNews {
	if cfg.BaseURL == "" {
		cfg.BaseURL = googleNewsBaseURL
	}

	if cfg.Language == "" {
		cfg.Language = "en"
	}

	if cfg.Country == "" {
		cfg.Country = "US"
	}

	return &GoogleNews{tracker: newTracker(), cfg: cfg, client: client, parser: gofeed.NewParser()}
}

func (g *GoogleNews) Name() string { return NameGoogleNews }

func (g *GoogleNews) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	g.startKeyword(keyword)

	params := url.Values{
		"q":    {phrase(keyword) + " " + orGroup(securityTerms, " OR ") + " " + googleNewsSince},
		"hl":   {g.cfg.Language + "-" + g.cfg.Country},
		"gl":   {g.cfg.Country},
		"ceid": {g.cfg.Country + ":" + g.cfg.Language},
	}

	body, err := g.client.GetBody(ctx, NameGoogleNews, g.cfg.BaseURL, params, nil)
	if err != nil {
		return nil, err
	}

	feed, err := g.parser.ParseString(string(body))
	if err != nil {
		g.client.Blocked(g.cfg.BaseURL)
		return nil, apperrors.NewProviderError(NameGoogleNews, apperrors.KindBlocked, "unparseable feed: "+preview(body), err)
	}

	out := make([]domain.Observation, 0, len(feed.Items))

	for _, item := range feed.Items {
		link := clean(item.Link)
		if link == "" || !g.markNew(urlID(link)) {
			continue
		}

		title, source := splitTitleSource(clean(item.Title))

		out = append(out, domain.Observation{
			Title:   title,
			URL:     link,
			Summary: feedSummary(item.Description, title),
			RawDate: feedDate(item),
			Source:  domain.Source{Provider: NameGoogleNews, Method: source},
		})
	}

	return out, nil
}

// splitTitleSource splits "Headline - Publisher" as Google News renders it.
func splitTitleSource(title string) (string, string) {
	idx := strings.LastIndex(title, titleSourceSep)
	if idx <= 0 {
		return title, ""
	}

	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+len(titleSourceSep):])
}

// feedSummary strips markup from a feed description. Google News repeats the
// headline as the description; that carries no summary.
func feedSummary(description, title string) string {
	text := plainText(description)
	if text == "" || strings.HasPrefix(text, title) {
		return ""
	}

	return text
}

func feedDate(item *gofeed.Item) string {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	case item.Published != "":
		return clean(item.Published)
	default:
		return clean(item.Updated)
	}
}

// plainText returns the whitespace-collapsed text of an HTML fragment.
func plainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}
