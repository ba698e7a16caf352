package enrichment

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const (
	minDescriptionLen = 40
	maxDescriptionLen = 400

	MethodOGDescription      = "og:description"
	MethodMetaDescription    = "meta:description"
	MethodTwitterDescription = "twitter:description"
	MethodParagraph          = "paragraph"
	MethodReadability        = "readability"
)

// boilerplate marks texts that describe the page chrome rather than the article.
var boilerplate = []string{
	"cookie", "suscríbete", "subscribe", "sign in", "javascript must be enabled",
	"enable javascript", "access denied",
}

var metaSelectors = []struct {
	selector string
	method   string
}{
	{selector: `meta[property="og:description"]`, method: MethodOGDescription},
	{selector: `meta[name="description"]`, method: MethodMetaDescription},
	{selector: `meta[name="twitter:description"]`, method: MethodTwitterDescription},
}

// Description is what a page says about itself.
type Description struct {
	Text      string
	Method    string
	Language  string
	Canonical string
}

// ExtractDescription reads the description, language and canonical link of an
// HTML page. Meta descriptions win over the first usable paragraph, which
// wins over the readability text. Text is empty when nothing usable exists.
func ExtractDescription(htmlBytes []byte, pageURL string) Description {
	var d Description

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return d
	}

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		base = nil
	}

	d.Language = pageLanguage(doc)
	d.Canonical = canonicalLink(doc, base)

	for _, m := range metaSelectors {
		content, _ := doc.Find(m.selector).First().Attr("content")
		if text := goodDescription(content); text != "" {
			d.Text, d.Method = text, m.method
			break
		}
	}

	if d.Text == "" {
		doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			if text := goodDescription(p.Text()); text != "" {
				d.Text, d.Method = text, MethodParagraph
				return false
			}

			return true
		})
	}

	if d.Text == "" && base != nil {
		if article, err := readability.FromReader(bytes.NewReader(htmlBytes), base); err == nil {
			if text := goodDescription(article.TextContent); text != "" {
				d.Text, d.Method = text, MethodReadability
			}
		}
	}

	if d.Language == "" {
		d.Language = DetectLanguage(d.Text)
	}

	return d
}

// goodDescription collapses whitespace and rejects boilerplate and texts too
// short to describe an article. Long texts are cut to maxDescriptionLen runes.
func goodDescription(s string) string {
	text := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(text) < minDescriptionLen {
		return ""
	}

	low := strings.ToLower(text)
	for _, b := range boilerplate {
		if strings.Contains(low, b) {
			return ""
		}
	}

	return truncate(text, maxDescriptionLen)
}

// pageLanguage returns the primary subtag of <html lang> or xml:lang.
func pageLanguage(doc *goquery.Document) string {
	html := doc.Find("html").First()

	lang, ok := html.Attr("lang")
	if !ok || strings.TrimSpace(lang) == "" {
		lang, _ = html.Attr("xml:lang")
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}

	return lang
}

func canonicalLink(doc *goquery.Document, base *url.URL) string {
	var href string

	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "canonical") {
			return true
		}

		href, _ = s.Attr("href")
		href = strings.TrimSpace(href)

		return href == ""
	})

	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if base != nil {
		ref = base.ResolveReference(ref)
	}

	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}

	return ref.String()
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
