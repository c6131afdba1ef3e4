package extract

import (
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Metadata field sources in priority order. The first non-empty match
// wins; later sources never override an earlier one.
var (
	authorSources = []metaSource{
		{sel: `meta[name="author"]`, attr: "content"},
		{sel: `meta[property="article:author"]`, attr: "content"},
		{sel: `[rel="author"]`, attr: ""},
		{sel: `.author, .byline, [itemprop="author"]`, attr: ""},
	}
	publishedSources = []metaSource{
		{sel: `meta[property="article:published_time"]`, attr: "content"},
		{sel: `meta[name="date"]`, attr: "content"},
		{sel: `meta[name="publish-date"]`, attr: "content"},
		{sel: `time[datetime]`, attr: "datetime"},
		{sel: `[itemprop="datePublished"]`, attr: "content"},
	}
	modifiedSources = []metaSource{
		{sel: `meta[property="article:modified_time"]`, attr: "content"},
		{sel: `meta[name="last-modified"]`, attr: "content"},
		{sel: `[itemprop="dateModified"]`, attr: "content"},
	}
	languageSources = []metaSource{
		{sel: `html[lang]`, attr: "lang"},
		{sel: `meta[property="og:locale"]`, attr: "content"},
		{sel: `meta[http-equiv="content-language"]`, attr: "content"},
	}
)

type metaSource struct {
	sel  string
	attr string
}

// extractMetadata resolves author, dates and language through the
// priority chains, and derives word count and reading time from the
// original body text.
func (e *Extractor) extractMetadata(doc *goquery.Document, originalText string) content.DocumentMetadata {
	md := content.DocumentMetadata{
		Author:   firstMeta(doc, authorSources),
		Language: normalizeLanguage(firstMeta(doc, languageSources)),
	}
	if t, ok := parseDate(firstMeta(doc, publishedSources)); ok {
		md.Published = &t
	}
	if t, ok := parseDate(firstMeta(doc, modifiedSources)); ok {
		md.Modified = &t
	}

	words := len(strings.Fields(originalText))
	md.WordCount = words
	if words > 0 {
		md.ReadingTimeMin = int(math.Ceil(float64(words) / wordsPerMinute))
	}
	return md
}

func firstMeta(doc *goquery.Document, sources []metaSource) string {
	for _, src := range sources {
		sel := doc.Find(src.sel).First()
		if sel.Length() == 0 {
			continue
		}
		var v string
		if src.attr != "" {
			v, _ = sel.Attr(src.attr)
		} else {
			v = sel.Text()
		}
		if v = normalizeSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDate accepts any format dateparse recognizes. Unparseable values
// leave the field unset rather than failing extraction.
func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// normalizeLanguage reduces a locale tag to its primary subtag, so
// "en_US" and "en-GB" both yield "en".
func normalizeLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(raw, "-_"); i > 0 {
		raw = raw[:i]
	}
	return raw
}

// extractStructured captures ld+json payloads verbatim for downstream
// consumers; no schema validation happens here.
func extractStructured(doc *goquery.Document) []content.StructuredBlock {
	var blocks []content.StructuredBlock
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		blocks = append(blocks, content.StructuredBlock{Type: "ld+json", Raw: raw})
	})
	return blocks
}
