package reader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/aiter/parser"
	"github.com/brunobiangulo/aiter/parser/content"
	"github.com/xuri/excelize/v2"
)

// sheetFormats are the formats read directly via excelize/csv rather
// than through a parser.Parser, so the Sheet content variant keeps its
// real headers/rows structure instead of a display-flattened text form.
var sheetFormats = map[string]bool{
	"csv": true, "xlsx": true, "xls": true, "xlsm": true,
	"xlsb": true, "xla": true, "xlam": true, "ods": true,
}

// convertToDocContent dispatches a file to the conversion path for its
// format, producing the canonical content.DocContent the rest of the
// reader hashes, splits, and stores.
func convertToDocContent(ctx context.Context, path, format string, reg *parser.Registry) (content.DocContent, error) {
	switch {
	case sheetFormats[format]:
		return convertSheet(path, format)
	case format == "md" || format == "markdown":
		return convertMarkdown(path)
	default:
		return convertViaParser(ctx, path, format, reg)
	}
}

// convertSheet reads a spreadsheet directly, preserving headers/rows
// per sheet. CSV has no sheet concept, so it becomes a single page
// named after the file.
func convertSheet(path, format string) (content.DocContent, error) {
	if format == "csv" {
		return convertCSV(path)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return content.DocContent{}, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	var pages []content.SheetPage
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		headers := rows[0]
		body := rows[1:]
		pages = append(pages, content.SheetPage{Name: sheet, Headers: headers, Rows: body})
	}
	return content.NewSheet(pages), nil
}

func convertCSV(path string) (content.DocContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return content.DocContent{}, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return content.DocContent{}, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return content.NewSheet(nil), nil
	}
	name := baseName(path)
	headers := records[0]
	body := records[1:]
	return content.NewSheet([]content.SheetPage{{Name: name, Headers: headers, Rows: body}}), nil
}

// mdHeadingRe matches ATX heading lines for outline extraction (the same
// pattern as the splitter's in parser/content).
var mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// convertMarkdown reads the file, derives an outline tree from the ATX
// heading stack, and splits the text into heading-bounded pages so each
// section of the document becomes its own part. Fences and tables are
// preserved byte-for-byte for the splitter.
func convertMarkdown(path string) (content.DocContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return content.DocContent{}, fmt.Errorf("reading markdown file: %w", err)
	}
	text := string(data)
	outlines := markdownOutline(text)
	title, pages := markdownPages(text)
	return content.NewMarkdown(title, pages, outlines), nil
}

// markdownPages splits markdown into one page per section at the
// shallowest heading level that occurs more than once (so an H1 title
// over three H2 sections yields three pages, with the H1 promoted to
// the document title). Headings inside fenced blocks never split.
func markdownPages(text string) (*string, []string) {
	type headingAt struct {
		level, line int
	}
	lines := strings.Split(text, "\n")
	var headings []headingAt
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, headingAt{level: len(m[1]), line: i})
		}
	}

	countByLevel := map[int]int{}
	for _, h := range headings {
		countByLevel[h.level]++
	}
	splitLevel := 0
	for level := 1; level <= 6; level++ {
		if countByLevel[level] >= 2 {
			splitLevel = level
			break
		}
	}
	if splitLevel == 0 {
		return nil, []string{text}
	}

	// A single shallower heading above the split level is the document
	// title, not a section of its own.
	var title *string
	titleLine := -1
	if len(headings) > 0 && headings[0].level < splitLevel && countByLevel[headings[0].level] == 1 {
		m := mdHeadingRe.FindStringSubmatch(lines[headings[0].line])
		t := strings.TrimSpace(m[2])
		title = &t
		titleLine = headings[0].line
	}

	var cuts []int
	for _, h := range headings {
		if h.level == splitLevel {
			cuts = append(cuts, h.line)
		}
	}

	joinRange := func(from, to int) string {
		var kept []string
		for i := from; i < to; i++ {
			if i == titleLine {
				continue
			}
			kept = append(kept, lines[i])
		}
		return strings.TrimSpace(strings.Join(kept, "\n"))
	}

	var pages []string
	preamble := joinRange(0, cuts[0])
	for i, cut := range cuts {
		end := len(lines)
		if i+1 < len(cuts) {
			end = cuts[i+1]
		}
		page := joinRange(cut, end)
		if i == 0 && preamble != "" {
			page = preamble + "\n\n" + page
		}
		if page != "" {
			pages = append(pages, page)
		}
	}
	return title, pages
}

// markdownOutline builds a heading tree from ATX headings, nesting by
// level via a parent stack, skipping headings inside fenced blocks.
func markdownOutline(text string) []content.Outline {
	var roots []content.Outline
	stack := []*content.Outline{}
	inFence := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := mdHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		node := content.Outline{Title: strings.TrimSpace(m[2]), Page: 0}

		for len(stack) > 0 && len(stack) >= level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
			stack = append(stack, &roots[len(roots)-1])
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack, &parent.Children[len(parent.Children)-1])
		}
	}
	return roots
}

// convertViaParser handles txt/pdf/docx/epub through the registry's
// existing parser.Parser implementations, grouping sections into pages
// by PageNumber (PDF), by spine chapter (EPUB), or a single page
// (txt/docx, which carry no real pagination).
func convertViaParser(ctx context.Context, path, format string, reg *parser.Registry) (content.DocContent, error) {
	p, err := reg.Get(format)
	if err != nil {
		return content.DocContent{}, err
	}
	result, err := p.Parse(ctx, path)
	if err != nil {
		return content.DocContent{}, fmt.Errorf("parsing %s: %w", format, err)
	}

	if format == "epub" {
		return sectionsAsChapterPages(result.Sections), nil
	}
	return sectionsAsPages(result.Sections), nil
}

// sectionsAsPages groups sections by PageNumber into a Text DocContent,
// preserving heading lines and building an outline from heading-typed
// sections.
func sectionsAsPages(sections []parser.Section) content.DocContent {
	byPage := make(map[int][]parser.Section)
	var pageNums []int
	for _, sec := range sections {
		if _, ok := byPage[sec.PageNumber]; !ok {
			pageNums = append(pageNums, sec.PageNumber)
		}
		byPage[sec.PageNumber] = append(byPage[sec.PageNumber], sec)
	}
	sort.Ints(pageNums)

	pages := make([]string, 0, len(pageNums))
	var outlines []content.Outline
	for _, pn := range pageNums {
		var b strings.Builder
		for _, sec := range byPage[pn] {
			if sec.Heading != "" {
				b.WriteString(sec.Heading)
				b.WriteString("\n")
				if sec.Type == "section" || sec.Level > 0 {
					outlines = append(outlines, content.Outline{Title: sec.Heading, Page: pn})
				}
			}
			b.WriteString(sec.Content)
			b.WriteString("\n\n")
		}
		pages = append(pages, strings.TrimSpace(b.String()))
	}
	return content.NewText(nil, pages, outlines)
}

// sectionsAsChapterPages treats each EPUB spine chapter as its own
// page, which is a natural and non-fabricated page-like unit.
func sectionsAsChapterPages(sections []parser.Section) content.DocContent {
	pages := make([]string, 0, len(sections))
	outlines := make([]content.Outline, 0, len(sections))
	for i, sec := range sections {
		pages = append(pages, sec.Content)
		outlines = append(outlines, content.Outline{Title: sec.Heading, Page: i})
	}
	return content.NewText(nil, pages, outlines)
}

func baseName(path string) string {
	name := path
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[:idx]
	}
	return name
}
