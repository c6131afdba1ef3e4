// Package extract converts raw page markup into a cleaned, segmented,
// markdown-rendered document with metadata and per-segment importance.
package extract

import (
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Segment importance weights. Base by heading level, bumped by
// technical-content signals, clipped to 1.
const (
	importanceH1       = 1.0
	importanceH2       = 0.8
	importanceH3       = 0.6
	importanceOther    = 0.5
	codeBump           = 0.2
	vocabBump          = 0.2
	techSelectorBump   = 0.1
	wordsPerMinute     = 200
	qualityCodeWeight  = 2.0
	qualityParaWeight  = 0.5
	qualityBoilerplate = 2.0
)

// Config bounds the rendered output.
type Config struct {
	MaxContentLength int
}

// Extractor runs the cleanup → dedup → segmentation → render pipeline.
// Extraction never fails on malformed markup; missing fields are simply
// absent from the result.
type Extractor struct {
	cfg    Config
	tables Tables
	logger *log.Logger
}

// New builds an Extractor with the default heuristic tables.
func New(cfg Config, logger *log.Logger) *Extractor {
	return NewWithTables(cfg, DefaultTables, logger)
}

// NewWithTables builds an Extractor with caller-supplied tables.
func NewWithTables(cfg Config, tables Tables, logger *log.Logger) *Extractor {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 20000
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[EXTRACT] ", log.LstdFlags)
	}
	return &Extractor{cfg: cfg, tables: tables, logger: logger}
}

// Extract produces an ExtractedDocument from raw markup.
func (e *Extractor) Extract(rawHTML, pageURL string) content.ExtractedDocument {
	out := content.ExtractedDocument{
		URL:         pageURL,
		Title:       "Untitled",
		ExtractedAt: time.Now(),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		e.logger.Printf("unparseable markup for %s: %v", pageURL, err)
		return out
	}

	// Word count and reading time come from the original body, before
	// any cleanup strips text.
	originalText := normalizeSpace(doc.Find("body").Text())
	out.Metadata = e.extractMetadata(doc, originalText)
	out.Structured = extractStructured(doc)
	if title := e.extractTitle(doc, rawHTML, pageURL); title != "" {
		out.Title = title
	}

	e.removeNonContent(doc)
	e.dedupeElements(doc)

	main := e.selectMainContainer(doc)
	out.Segments = e.segment(main)

	var parts []string
	for _, seg := range out.Segments {
		parts = append(parts, seg.Markdown)
	}
	out.Content = CleanupMarkdown(strings.Join(parts, "\n\n"), e.cfg.MaxContentLength)
	if out.Content == "" {
		out.Content, out.Segments = e.readabilityFallback(rawHTML, pageURL)
	}
	return out
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// readabilityFallback is the last resort when cleanup left nothing:
// whatever readable text the page carries becomes a single main
// segment.
func (e *Extractor) readabilityFallback(rawHTML, pageURL string) (string, []content.ContentSegment) {
	article, err := readability.FromReader(strings.NewReader(rawHTML), mustParseURL(pageURL))
	if err != nil {
		return "", nil
	}
	text := CleanupMarkdown(article.TextContent, e.cfg.MaxContentLength)
	if text == "" {
		return "", nil
	}
	e.logger.Printf("readability fallback for %s", pageURL)
	return text, []content.ContentSegment{{
		ID:         "seg-0",
		Kind:       content.SegmentMain,
		Markdown:   text,
		Importance: importanceOther,
	}}
}

// extractTitle resolves the document title through the fallback chain:
// <title> → og:title → first h1 → readability → "Untitled".
func (e *Extractor) extractTitle(doc *goquery.Document, rawHTML, pageURL string) string {
	if t := normalizeSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && normalizeSpace(t) != "" {
		return normalizeSpace(t)
	}
	if t := normalizeSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if article, err := readability.FromReader(strings.NewReader(rawHTML), mustParseURL(pageURL)); err == nil {
		if t := normalizeSpace(article.Title); t != "" {
			return t
		}
	}
	return ""
}

// removeNonContent drops scripts, styles, hidden elements and the
// boilerplate denylist. Technical content is never removed, even when
// it also matches a boilerplate selector.
func (e *Extractor) removeNonContent(doc *goquery.Document) {
	doc.Find("script, style, noscript, template, iframe").Remove()
	doc.Find(`[hidden], [aria-hidden="true"], [style*="display:none"], [style*="display: none"]`).Remove()
	for _, sel := range e.tables.BoilerplateSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if !e.isTechnical(s) {
				s.Remove()
			}
		})
	}
}

// dedupeElements removes paragraph/list/cell elements whose exact text
// already occurred earlier in the document, skipping technical elements.
func (e *Extractor) dedupeElements(doc *goquery.Document) {
	seen := make(map[string]struct{})
	doc.Find("p, li, td").Each(func(_ int, s *goquery.Selection) {
		if e.isTechnical(s) {
			return
		}
		text := normalizeSpace(s.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			s.Remove()
			return
		}
		seen[text] = struct{}{}
	})
}

// selectMainContainer scores each candidate container and returns the
// best one, defaulting to body when nothing scores above zero.
func (e *Extractor) selectMainContainer(doc *goquery.Document) *goquery.Selection {
	body := doc.Find("body").First()
	best := body
	bestScore := 0.0
	for _, cand := range e.tables.MainCandidates {
		doc.Find(cand.Selector).Each(func(_ int, s *goquery.Selection) {
			score := cand.Base + e.contentQuality(s)
			if score > bestScore {
				bestScore = score
				best = s
			}
		})
	}
	return best
}

// contentQuality rewards code blocks, headings, paragraphs and lists,
// and penalizes surviving boilerplate inside a candidate container.
func (e *Extractor) contentQuality(s *goquery.Selection) float64 {
	score := float64(s.Find("pre, code").Length()) * qualityCodeWeight
	score += float64(s.Find("h1, h2, h3, h4").Length())
	score += float64(s.Find("p").Length()) * qualityParaWeight
	score += float64(s.Find("ul, ol").Length())
	for _, sel := range e.tables.BoilerplateSelectors {
		score -= float64(s.Find(sel).Length()) * qualityBoilerplate
	}
	return score
}

// isTechnical reports whether an element carries technical content:
// a code block, a technical selector match, or technical vocabulary in
// its text.
func (e *Extractor) isTechnical(s *goquery.Selection) bool {
	if s.Find("pre, code").Length() > 0 {
		return true
	}
	name := goquery.NodeName(s)
	if name == "pre" || name == "code" {
		return true
	}
	if s.Is(strings.Join(e.tables.TechnicalSelectors, ", ")) {
		return true
	}
	return e.hasVocabTerm(s.Text())
}

func (e *Extractor) matchesTechnicalSelector(s *goquery.Selection) bool {
	return s.Is(strings.Join(e.tables.TechnicalSelectors, ", "))
}

func (e *Extractor) hasVocabTerm(text string) bool {
	lt := strings.ToLower(text)
	for _, term := range e.tables.TechnicalVocabulary {
		if strings.Contains(lt, term) {
			return true
		}
	}
	return false
}

// segment walks the main container in source order, starting a new
// segment at each heading or technical block. Technical segments absorb
// an adjacent technical sibling to keep explanatory context together.
func (e *Extractor) segment(main *goquery.Selection) []content.ContentSegment {
	blocks := collectBlocks(main)
	var segments []content.ContentSegment

	var cur *segmentBuilder
	flush := func() {
		if cur != nil && strings.TrimSpace(cur.markdown.String()) != "" {
			segments = append(segments, cur.build(len(segments)+1, e))
		}
		cur = nil
	}

	for i := 0; i < len(blocks); i++ {
		b := blocks[i]
		name := goquery.NodeName(b)
		switch {
		case isHeading(name):
			flush()
			cur = newSegmentBuilder(normalizeSpace(b.Text()), headingImportance(name))
			cur.techSelector = e.matchesTechnicalSelector(b)
			cur.write(renderBlock(b))
		case e.isTechnicalBlock(b):
			// A technical block always opens its own segment. If the
			// previous sibling was technical prose, pull it in; same
			// for the following sibling.
			flush()
			cur = newSegmentBuilder("", importanceOther)
			cur.kind = content.SegmentTechnical
			cur.techSelector = e.matchesTechnicalSelector(b)
			if i > 0 && !isHeading(goquery.NodeName(blocks[i-1])) && e.hasVocabTerm(blocks[i-1].Text()) {
				cur.write(renderBlock(blocks[i-1]))
			}
			cur.write(renderBlock(b))
			if i+1 < len(blocks) && !isHeading(goquery.NodeName(blocks[i+1])) && e.hasVocabTerm(blocks[i+1].Text()) {
				cur.write(renderBlock(blocks[i+1]))
				i++
			}
			flush()
		default:
			if cur == nil {
				cur = newSegmentBuilder("", importanceOther)
			}
			cur.write(renderBlock(b))
		}
	}
	flush()
	return segments
}

// isTechnicalBlock decides whether a block starts a technical segment:
// a pre/code block or a container matching a technical selector that
// holds code.
func (e *Extractor) isTechnicalBlock(s *goquery.Selection) bool {
	name := goquery.NodeName(s)
	if name == "pre" || name == "code" {
		return true
	}
	return e.matchesTechnicalSelector(s) && s.Find("pre, code").Length() > 0
}

// segmentBuilder accumulates one in-flight segment.
type segmentBuilder struct {
	title        string
	base         float64
	kind         content.SegmentKind
	techSelector bool
	markdown     strings.Builder
	hasCode      bool
}

func newSegmentBuilder(title string, base float64) *segmentBuilder {
	return &segmentBuilder{title: title, base: base, kind: content.SegmentMain}
}

func (b *segmentBuilder) write(md string) {
	md = strings.TrimSpace(md)
	if md == "" {
		return
	}
	if b.markdown.Len() > 0 {
		b.markdown.WriteString("\n\n")
	}
	b.markdown.WriteString(md)
	if strings.Contains(md, "```") || strings.Contains(md, "`") {
		b.hasCode = strings.Contains(md, "```") || b.hasCode
	}
}

func (b *segmentBuilder) build(n int, e *Extractor) content.ContentSegment {
	text := b.markdown.String()
	importance := b.base
	if b.hasCode {
		importance += codeBump
	}
	if e.hasVocabTerm(text) {
		importance += vocabBump
	}
	if b.techSelector {
		importance += techSelectorBump
	}
	kind := b.kind
	if b.hasCode {
		kind = content.SegmentTechnical
	}
	return content.ContentSegment{
		ID:         fmt.Sprintf("seg-%d", n),
		Title:      b.title,
		Markdown:   text,
		Importance: math.Min(importance, 1.0),
		Kind:       kind,
		HasCode:    b.hasCode,
	}
}

// collectBlocks flattens the container into renderable blocks in source
// order, descending into generic wrappers but keeping semantic blocks
// whole.
func collectBlocks(root *goquery.Selection) []*goquery.Selection {
	var blocks []*goquery.Selection
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Children().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "h1", "h2", "h3", "h4", "h5", "h6",
				"p", "pre", "ul", "ol", "table", "blockquote", "img", "figure":
				blocks = append(blocks, c)
			case "div", "section", "article", "main", "span", "body", "form", "details":
				if c.Children().Length() == 0 {
					if normalizeSpace(c.Text()) != "" {
						blocks = append(blocks, c)
					}
					return
				}
				walk(c)
			default:
				if c.Children().Length() > 0 {
					walk(c)
				} else if normalizeSpace(c.Text()) != "" {
					blocks = append(blocks, c)
				}
			}
		})
	}
	walk(root)
	return blocks
}

func isHeading(name string) bool {
	switch name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func headingImportance(name string) float64 {
	switch name {
	case "h1":
		return importanceH1
	case "h2":
		return importanceH2
	case "h3":
		return importanceH3
	default:
		return importanceOther
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
