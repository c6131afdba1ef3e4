package extract

import (
	"strings"
	"testing"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

func newTestExtractor() *Extractor {
	return New(Config{MaxContentLength: 20000}, nil)
}

func TestReadabilityFallbackYieldsMainSegment(t *testing.T) {
	html := `<html><head><title>Fallback</title></head><body><article><p>` +
		strings.Repeat("The scheduler drains each worker, and every pending item is flushed to disk before shutdown. ", 8) +
		`</p></article></body></html>`

	text, segs := newTestExtractor().readabilityFallback(html, "https://example.com/plain")

	if text == "" {
		t.Fatal("expected readable text")
	}
	if len(segs) != 1 || segs[0].Kind != content.SegmentMain {
		t.Fatalf("segments = %+v, want one main segment", segs)
	}
	if segs[0].Markdown != text {
		t.Errorf("segment markdown diverges from content")
	}
}

func TestExtractEmptyPageStaysEmpty(t *testing.T) {
	doc := newTestExtractor().Extract("<body><script>var x = 1;</script></body>", "https://example.com/empty")
	if doc.Content != "" {
		t.Errorf("content = %q, want empty", doc.Content)
	}
}

func TestExtractKeepsContentDropsBoilerplate(t *testing.T) {
	html := `<html><head><title>Intro Page</title></head><body>
		<nav>Home | About | Contact</nav>
		<h1>Intro</h1>
		<p>This page explains the basics of the tool.</p>
		<pre><code>example()</code></pre>
	</body></html>`

	doc := newTestExtractor().Extract(html, "https://example.com/intro")

	if doc.Title != "Intro Page" {
		t.Fatalf("title = %q, want %q", doc.Title, "Intro Page")
	}
	if !strings.Contains(doc.Content, "# Intro") {
		t.Errorf("content missing heading: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "basics of the tool") {
		t.Errorf("content missing paragraph: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "example()") {
		t.Errorf("content missing code block: %q", doc.Content)
	}
	if strings.Contains(doc.Content, "Home | About") {
		t.Errorf("nav text survived cleanup: %q", doc.Content)
	}
	if !doc.HasCode() {
		t.Error("HasCode() = false, want true")
	}
}

func TestExtractNeverErrors(t *testing.T) {
	for _, html := range []string{"", "<<<<not html", "<body><p>x"} {
		doc := newTestExtractor().Extract(html, "https://example.com")
		if doc.Title == "" {
			t.Errorf("Extract(%q) returned empty title, want Untitled fallback", html)
		}
	}
}

func TestExtractTitleFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"title tag", `<title>From Title</title><h1>From H1</h1>`, "From Title"},
		{"og:title", `<meta property="og:title" content="From OG"><body><h1>From H1</h1></body>`, "From OG"},
		{"h1", `<body><h1>From H1</h1></body>`, "From H1"},
		{"nothing", `<body><p>no title anywhere in this page</p></body>`, "Untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newTestExtractor().Extract(tt.html, "https://example.com")
			if doc.Title != tt.want {
				t.Errorf("title = %q, want %q", doc.Title, tt.want)
			}
		})
	}
}

func TestExtractDedupesRepeatedParagraphs(t *testing.T) {
	html := `<body><article>
		<p>Subscribe to our newsletter today.</p>
		<p>Unique body paragraph with real information.</p>
		<p>Subscribe to our newsletter today.</p>
	</article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com")

	if n := strings.Count(doc.Content, "Subscribe to our newsletter"); n != 1 {
		t.Errorf("duplicate paragraph appears %d times, want 1\n%s", n, doc.Content)
	}
}

func TestExtractTechnicalSegmentImportance(t *testing.T) {
	html := `<body><article>
		<h1>API Reference</h1>
		<p>The function accepts a context parameter.</p>
		<pre><code class="language-go">func Do(ctx context.Context) error</code></pre>
		<h3>Notes</h3>
		<p>Minor remark.</p>
	</article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com/api")

	if !doc.HasTechnicalContent() {
		t.Fatal("HasTechnicalContent() = false, want true")
	}
	var tech *content.ContentSegment
	for i := range doc.Segments {
		if doc.Segments[i].Kind == content.SegmentTechnical {
			tech = &doc.Segments[i]
			break
		}
	}
	if tech == nil {
		t.Fatal("no technical segment produced")
	}
	if !tech.HasCode {
		t.Error("technical segment HasCode = false")
	}
	if !strings.Contains(tech.Markdown, "```go") {
		t.Errorf("fence language missing: %q", tech.Markdown)
	}
	// Code plus vocabulary bumps on an importanceOther base.
	if tech.Importance < importanceOther+codeBump {
		t.Errorf("technical importance = %v, want >= %v", tech.Importance, importanceOther+codeBump)
	}
	if tech.Importance > 1.0 {
		t.Errorf("importance %v exceeds 1.0", tech.Importance)
	}
}

func TestHeadingImportanceLevels(t *testing.T) {
	html := `<body><article>
		<h1>One heading here</h1><p>Alpha paragraph content.</p>
		<h2>Two heading here</h2><p>Beta paragraph content.</p>
		<h3>Three heading here</h3><p>Gamma paragraph content.</p>
	</article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com")
	if len(doc.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(doc.Segments))
	}
	wants := []float64{importanceH1, importanceH2, importanceH3}
	for i, want := range wants {
		if doc.Segments[i].Importance != want {
			t.Errorf("segment %d importance = %v, want %v", i, doc.Segments[i].Importance, want)
		}
	}
}

func TestExtractMetadata(t *testing.T) {
	html := `<html lang="en-US"><head>
		<meta name="author" content="Jane Dev">
		<meta property="article:published_time" content="2024-03-15T10:00:00Z">
	</head><body><p>` + strings.Repeat("word ", 400) + `</p></body></html>`

	doc := newTestExtractor().Extract(html, "https://example.com")

	md := doc.Metadata
	if md.Author != "Jane Dev" {
		t.Errorf("author = %q", md.Author)
	}
	if md.Published == nil || md.Published.Year() != 2024 {
		t.Errorf("published = %v", md.Published)
	}
	if md.Language != "en" {
		t.Errorf("language = %q, want en", md.Language)
	}
	if md.WordCount != 400 {
		t.Errorf("word count = %d, want 400", md.WordCount)
	}
	if md.ReadingTimeMin != 2 {
		t.Errorf("reading time = %d, want 2", md.ReadingTimeMin)
	}
}

func TestCleanupMarkdownFenceExemption(t *testing.T) {
	md := "Real paragraph line.\n\n\n\n```\nx\nx\n!!\n```\n!!\nReal paragraph line.\nab"
	got := CleanupMarkdown(md, 0)

	if strings.Count(got, "\n\n\n") > 0 {
		t.Errorf("blank run survived: %q", got)
	}
	// Inside the fence both short lines and duplicates survive.
	if strings.Count(got, "\nx\n") == 0 || !strings.Contains(got, "\n!!\n```") {
		t.Errorf("fence content was altered: %q", got)
	}
	// Outside the fence the duplicate line, the punctuation line and the
	// short line are all dropped.
	if strings.Count(got, "Real paragraph line.") != 1 {
		t.Errorf("duplicate line survived outside fence: %q", got)
	}
	if strings.HasSuffix(got, "ab") {
		t.Errorf("short line survived: %q", got)
	}
}

func TestCleanupMarkdownTruncation(t *testing.T) {
	md := strings.Repeat("lorem ipsum ", 50)
	got := CleanupMarkdown(md, 100)
	if len(got) > 104 {
		t.Errorf("len = %d, want <= 104", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "..."), "lor") {
		t.Errorf("cut mid-word: %q", got)
	}
}

func TestRenderTableNormalizesRows(t *testing.T) {
	html := `<body><article><table>
		<tr><th>Name</th><th>Type</th></tr>
		<tr><td>---</td><td>---</td></tr>
		<tr><td>timeout</td><td>int</td></tr>
		<tr><td>short</td></tr>
	</table></article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com")

	if !strings.Contains(doc.Content, "| Name | Type |") {
		t.Fatalf("header row missing: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "| timeout | int |") {
		t.Errorf("data row missing: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "| short |  |") {
		t.Errorf("short row not padded: %q", doc.Content)
	}
	if strings.Count(doc.Content, "| --- | --- |") != 1 {
		t.Errorf("separator row duplicated or missing: %q", doc.Content)
	}
}

func TestTwoTablesKeepSeparatorRows(t *testing.T) {
	html := `<body><article>
		<table><tr><th>Name</th><th>Type</th></tr><tr><td>timeout</td><td>int</td></tr></table>
		<p>Prose between the tables.</p>
		<table><tr><th>Flag</th><th>Kind</th></tr><tr><td>debug</td><td>bool</td></tr></table>
	</article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com")

	if got := strings.Count(doc.Content, "| --- | --- |"); got != 2 {
		t.Errorf("separator rows = %d, want 2: %q", got, doc.Content)
	}
	if !strings.Contains(doc.Content, "| debug | bool |") {
		t.Errorf("second table lost: %q", doc.Content)
	}
}

func TestRenderInlineLinks(t *testing.T) {
	html := `<body><article><p>See <a href="https://example.org/docs">the docs</a>
		and <a href="/relative">local page</a> for details.</p></article></body>`

	doc := newTestExtractor().Extract(html, "https://example.com")

	if !strings.Contains(doc.Content, "[the docs](https://example.org/docs)") {
		t.Errorf("absolute link not rendered: %q", doc.Content)
	}
	if strings.Contains(doc.Content, "](/relative)") {
		t.Errorf("relative link rendered as markdown link: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "local page") {
		t.Errorf("relative link text lost: %q", doc.Content)
	}
}

func TestDocumentLinks(t *testing.T) {
	html := `<body>
		<a href="/a/b">rel</a>
		<a href="https://other.example/x">abs</a>
		<a href="mailto:me@example.com">mail</a>
		<a href="#frag">frag</a>
		<a href="/a/b">dup</a>
	</body>`

	links := DocumentLinks(html, "https://example.com/page")

	want := []string{"https://example.com/a/b", "https://other.example/x"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}
