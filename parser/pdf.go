package parser

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts text from PDF files page by page, reassembling the
// content stream into visual lines and carving each page into sections
// at detected heading boundaries.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := r.NumPage()
	var sections []Section
	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(page)
		if err != nil {
			// A single undecodable page shouldn't lose the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, sectionizePage(text, i)...)
	}

	// Headings repeated on most pages are running headers, not structure.
	sections = stripRunningHeaders(sections, totalPages)

	return &ParseResult{Sections: sections}, nil
}

// yTolerance groups text elements whose baselines sit within this many
// points into one visual line.
const yTolerance = 3.0

// pageText reassembles a page's content stream into newline-separated
// visual lines. Elements keep their stream order within a line (sorting
// by X garbles PDFs that use negative text matrices); lines sort by Y
// descending since PDF's origin is the bottom-left corner.
func pageText(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	type line struct {
		y   float64
		buf strings.Builder
	}
	var lines []*line
	var cur *line
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > yTolerance {
			cur = &line{y: t.Y}
			lines = append(lines, cur)
		}
		cur.buf.WriteString(t.S)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var out []string
	for _, l := range lines {
		if s := strings.TrimSpace(l.buf.String()); s != "" {
			out = append(out, s)
		}
	}
	joined := strings.Join(out, "\n")
	if strings.TrimSpace(joined) == "" {
		return page.GetPlainText(nil)
	}
	return joined, nil
}

// sectionizePage carves one page's text into sections at heading
// boundaries. A heading with no body whose successor sits deeper gets
// folded into that successor so parent titles stay next to their data.
func sectionizePage(text string, pageNum int) []Section {
	var sections []Section
	var heading string
	var level int
	var body strings.Builder

	flush := func() {
		if body.Len() == 0 && heading == "" {
			return
		}
		content := strings.TrimSpace(body.String())
		sections = append(sections, Section{
			Heading:    heading,
			Content:    content,
			Level:      level,
			PageNumber: pageNum,
			Type:       sectionType(content),
		})
		body.Reset()
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if body.Len() > 0 {
				body.WriteString("\n")
			}
			continue
		}
		if looksLikeHeading(line) {
			flush()
			heading = line
			level = headingLevel(line)
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		body.WriteString(line)
	}
	flush()

	// Fold empty parent headings into their deeper successors.
	for i := len(sections) - 2; i >= 0; i-- {
		s, next := sections[i], sections[i+1]
		if s.Content == "" && s.Heading != "" && next.Level > s.Level {
			if next.Heading != "" {
				sections[i+1].Heading = s.Heading + " — " + next.Heading
			} else {
				sections[i+1].Heading = s.Heading
			}
			sections[i+1].Level = s.Level
			sections = append(sections[:i], sections[i+1:]...)
		}
	}

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{Content: text, PageNumber: pageNum, Type: "paragraph"})
	}
	return sections
}

// headingPrefixes are line openers that mark structural headings across
// the languages commonly seen in ingested manuals.
var headingPrefixes = []string{
	"section ", "article ", "chapter ", "part ",
	"sección ", "seccion ", "capítulo ", "capitulo ", "anexo ",
	"seção ", "secao ", "artigo ",
	"chapitre ", "partie ", "annexe ",
}

// numberedCaptionPrefixes only count as headings when a digit follows,
// so "figure skating" mid-paragraph doesn't split a section.
var numberedCaptionPrefixes = []string{
	"tabla ", "tabela ", "tableau ", "figura ", "figure ",
	"cuadro ", "quadro ", "gráfico ", "graphique ",
}

func looksLikeHeading(line string) bool {
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	// Numbered headings: "1.", "3.9.1 Title", "7.3.1.2".
	if len(line) > 0 && line[0] >= '0' && line[0] <= '9' {
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.Contains(head, ".") {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, p := range headingPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, p := range numberedCaptionPrefixes {
		if strings.HasPrefix(lower, p) && len(lower) > len(p) &&
			lower[len(p)] >= '0' && lower[len(p)] <= '9' {
			return true
		}
	}
	return false
}

// headingLevel derives depth from the dot count of a numbered prefix;
// all-caps headings are top-level, everything else is a sub-heading.
func headingLevel(heading string) int {
	first, _, _ := strings.Cut(heading, " ")
	if dots := strings.Count(first, "."); dots > 0 {
		return dots
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func sectionType(content string) string {
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	return "section"
}

// stripRunningHeaders replaces headings that repeat across a large share
// of pages (document titles in the page chrome) with the last structural
// heading, so a section spilling onto the next page keeps its context.
func stripRunningHeaders(sections []Section, totalPages int) []Section {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	pagesByHeading := make(map[string]map[int]bool)
	for _, s := range sections {
		h := canonicalHeading(s.Heading)
		if h == "" {
			continue
		}
		if pagesByHeading[h] == nil {
			pagesByHeading[h] = make(map[int]bool)
		}
		pagesByHeading[h][s.PageNumber] = true
	}

	// Appearing on a quarter of the pages (and at least 3) marks a
	// heading as page chrome rather than structure.
	threshold := totalPages / 4
	if threshold < 3 {
		threshold = 3
	}
	running := make(map[string]bool)
	for h, pages := range pagesByHeading {
		if len(pages) >= threshold {
			running[h] = true
		}
	}
	if len(running) == 0 {
		return sections
	}

	var carryHeading string
	var carryLevel int
	for i := range sections {
		if running[canonicalHeading(sections[i].Heading)] {
			if carryHeading != "" {
				sections[i].Heading = carryHeading
				sections[i].Level = carryLevel
			}
		} else if sections[i].Heading != "" {
			carryHeading = sections[i].Heading
			carryLevel = sections[i].Level
		}
	}
	return sections
}

// canonicalHeading trims the trailing non-ASCII artifacts PDF text
// extraction leaves on page-chrome lines, so the same running header
// matches across pages.
func canonicalHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 {
			h = strings.TrimSpace(h[:len(h)-1])
			continue
		}
		break
	}
	return h
}
