package providers

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	NameGDELT = "GDELT"

	gdeltBaseURL         = "https://api.gdeltproject.org/api/v2/doc/doc"
	gdeltTimeLayout      = "20060102150405"
	gdeltSeenLayout      = "20060102T150405Z"
	gdeltMaxRecords      = 250
	gdeltMaxEmptyWindows = 6
	gdeltMinTokenLen     = 4
)

// GDELTConfig configures the GDELT DOC API provider.
type GDELTConfig struct {
	BaseURL         string
	MaxRecords      int
	Since           time.Time
	MaxEmptyWindows int
	Now             func() time.Time
}

// GDELT searches the GDELT DOC 2.0 article list in monthly windows, newest
// first, stopping after a run of empty windows.
type GDELT struct {
	tracker
	cfg    GDELTConfig
	client *Client
}

// NewGDELT builds the provider.
func NewGDELT(cfg GDELTConfig, client *Client) *GDELT {
	if cfg.BaseURL == "" {
		cfg.BaseURL = gdeltBaseURL
	}

	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = gdeltMaxRecords
	}

	if cfg.Since.IsZero() {
		cfg.Since = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	if cfg.MaxEmptyWindows <= 0 {
		cfg.MaxEmptyWindows = gdeltMaxEmptyWindows
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &GDELT{tracker: newTracker(), cfg: cfg, client: client}
}

func (g *GDELT) Name() string { return NameGDELT }

type gdeltResponse struct {
	Articles []struct {
		URL              string `json:"url"`
		Title            string `json:"title"`
		SeenDate         string `json:"seendate"`
		SourceCommonName string `json:"sourcecommonname"`
		Domain           string `json:"domain"`
		Language         string `json:"language"`
	} `json:"articles"`
}

// Search walks the monthly windows from the resume position backwards.
// The cursor stores the start of the next window to query.
func (g *GDELT) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	query := gdeltQuery(keyword)
	now := g.cfg.Now().UTC()

	end := now
	if next := g.startKeyword(keyword); next != "" {
		if t, err := time.Parse(gdeltTimeLayout, next); err == nil {
			end = t
		}
	}

	var (
		out   []domain.Observation
		empty int
	)

	for end.After(g.cfg.Since) && empty < g.cfg.MaxEmptyWindows {
		start := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
		if !start.Before(end) {
			start = start.AddDate(0, -1, 0)
		}

		if start.Before(g.cfg.Since) {
			start = g.cfg.Since
		}

		params := url.Values{
			"query":         {query},
			"mode":          {"artlist"},
			"format":        {"json"},
			"maxrecords":    {strconv.Itoa(g.cfg.MaxRecords)},
			"sort":          {"DateDesc"},
			"startdatetime": {start.Format(gdeltTimeLayout)},
			"enddatetime":   {end.Format(gdeltTimeLayout)},
		}

		var resp gdeltResponse
		if err := g.client.GetJSON(ctx, NameGDELT, g.cfg.BaseURL, params, nil, &resp); err != nil {
			g.next = end.Format(gdeltTimeLayout)
			return out, err
		}

		if len(resp.Articles) == 0 {
			empty++
		} else {
			empty = 0
		}

		for _, a := range resp.Articles {
			if !g.markNew(urlID(a.URL)) {
				continue
			}

			method := clean(a.SourceCommonName)
			if method == "" {
				method = clean(a.Domain)
			}

			out = append(out, domain.Observation{
				Title:    clean(a.Title),
				URL:      clean(a.URL),
				RawDate:  gdeltDate(a.SeenDate),
				Language: clean(a.Language),
				Source:   domain.Source{Provider: NameGDELT, Method: method},
			})
		}

		end = start
	}

	g.next = ""

	return out, nil
}

// gdeltQuery keeps short tokens unquoted; GDELT rejects quoted phrases that
// are too short.
func gdeltQuery(keyword string) string {
	kw := strings.TrimSpace(keyword)
	if len(kw) >= gdeltMinTokenLen {
		kw = phrase(kw)
	}

	return kw + " " + orGroup(securityTerms, " OR ")
}

func gdeltDate(seen string) string {
	t, err := time.Parse(gdeltSeenLayout, strings.TrimSpace(seen))
	if err != nil {
		return clean(seen)
	}

	return t.Format(time.RFC3339)
}
