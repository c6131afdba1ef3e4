package extract

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// renderBlock converts one block-level element to markdown.
func renderBlock(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "h1":
		return "# " + renderInline(s)
	case "h2":
		return "## " + renderInline(s)
	case "h3":
		return "### " + renderInline(s)
	case "h4":
		return "#### " + renderInline(s)
	case "h5":
		return "##### " + renderInline(s)
	case "h6":
		return "###### " + renderInline(s)
	case "p":
		return renderInline(s)
	case "pre":
		return renderCode(s)
	case "ul":
		return renderList(s, false)
	case "ol":
		return renderList(s, true)
	case "table":
		return renderTable(s)
	case "blockquote":
		return renderBlockquote(s)
	case "img":
		return renderImage(s)
	case "figure":
		var parts []string
		s.Find("img").Each(func(_ int, img *goquery.Selection) {
			if md := renderImage(img); md != "" {
				parts = append(parts, md)
			}
		})
		if caption := normalizeSpace(s.Find("figcaption").Text()); caption != "" {
			parts = append(parts, "*"+caption+"*")
		}
		return strings.Join(parts, "\n")
	default:
		return renderInline(s)
	}
}

// renderInline walks text and inline children, producing markdown links
// for anchors with absolute http(s) hrefs and inline code for <code>.
// Relative and non-web links degrade to their text.
func renderInline(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
		case "a":
			text := normalizeSpace(c.Text())
			href, _ := c.Attr("href")
			if text == "" {
				return
			}
			if isAbsoluteWebURL(href) {
				fmt.Fprintf(&b, "[%s](%s)", text, href)
			} else {
				b.WriteString(text)
			}
		case "code":
			if t := normalizeSpace(c.Text()); t != "" {
				b.WriteString("`" + t + "`")
			}
		case "strong", "b":
			if t := normalizeSpace(renderInline(c)); t != "" {
				b.WriteString("**" + t + "**")
			}
		case "em", "i":
			if t := normalizeSpace(renderInline(c)); t != "" {
				b.WriteString("*" + t + "*")
			}
		case "br":
			b.WriteString(" ")
		case "img":
			b.WriteString(renderImage(c))
		default:
			b.WriteString(renderInline(c))
		}
	})
	return normalizeSpace(b.String())
}

// renderCode emits a fenced block, preserving the original whitespace
// inside the fence. A language-* class on pre or its inner code becomes
// the fence language tag.
func renderCode(s *goquery.Selection) string {
	lang := codeLanguage(s)
	if inner := s.Find("code").First(); inner.Length() > 0 && lang == "" {
		lang = codeLanguage(inner)
	}
	text := strings.Trim(s.Text(), "\n")
	return "```" + lang + "\n" + text + "\n```"
}

func codeLanguage(s *goquery.Selection) string {
	class, _ := s.Attr("class")
	for _, c := range strings.Fields(class) {
		if rest, ok := strings.CutPrefix(c, "language-"); ok {
			return rest
		}
		if rest, ok := strings.CutPrefix(c, "lang-"); ok {
			return rest
		}
	}
	return ""
}

func renderList(s *goquery.Selection, ordered bool) string {
	var lines []string
	s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		text := renderInline(li)
		if text == "" {
			return
		}
		if ordered {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, text))
		} else {
			lines = append(lines, "- "+text)
		}
	})
	return strings.Join(lines, "\n")
}

// renderTable normalizes rows to the header width: short rows are padded
// with empty cells, and rows that only repeat the separator are skipped.
func renderTable(s *goquery.Selection) string {
	var rows [][]string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, normalizeSpace(cell.Text()))
		})
		if len(cells) == 0 || isSeparatorRow(cells) {
			return
		}
		rows = append(rows, cells)
	})
	if len(rows) == 0 {
		return ""
	}

	width := len(rows[0])
	var b strings.Builder
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		b.WriteString("| " + strings.Join(row[:width], " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func renderBlockquote(s *goquery.Selection) string {
	text := renderInline(s)
	if text == "" {
		return ""
	}
	return "> " + text
}

// renderImage emits the alt text form; images without alt are dropped.
func renderImage(s *goquery.Selection) string {
	alt, _ := s.Attr("alt")
	alt = normalizeSpace(alt)
	if alt == "" {
		return ""
	}
	src, _ := s.Attr("src")
	if isAbsoluteWebURL(src) {
		return fmt.Sprintf("![%s](%s)", alt, src)
	}
	return fmt.Sprintf("![%s]", alt)
}

func isAbsoluteWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CleanupMarkdown collapses blank runs, drops noise lines and exact
// duplicate lines, and truncates at a whitespace boundary. Blank lines,
// fenced code content and table rows are exempt from the noise and
// dedup passes.
func CleanupMarkdown(md string, maxLen int) string {
	lines := strings.Split(md, "\n")
	seen := make(map[string]struct{})
	var out []string
	inFence := false
	blanks := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isFence := strings.HasPrefix(trimmed, "```")
		if isFence {
			inFence = !inFence
			out = append(out, line)
			blanks = 0
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		// Table rows keep their separator line and may legitimately
		// repeat across tables.
		if strings.HasPrefix(trimmed, "|") {
			out = append(out, line)
			continue
		}
		if isNoiseLine(trimmed) {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, line)
	}

	result := strings.TrimSpace(strings.Join(out, "\n"))
	return truncateAtBoundary(result, maxLen)
}

// isNoiseLine drops lines shorter than three characters or made only of
// punctuation.
func isNoiseLine(trimmed string) bool {
	if len(trimmed) < 3 {
		return true
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// truncateAtBoundary cuts at the last whitespace before maxLen and
// appends an ellipsis marker.
func truncateAtBoundary(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t") + "..."
}
