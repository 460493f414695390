// Package content implements the hierarchical content model a parsed
// document is reduced to (Doc → Part → Seg → Frag), and the
// token-budget splitter that produces that hierarchy.
package content

import "strings"

// Kind tags which of the three content shapes a DocContent value holds.
// DocContent is modelled as one struct with a Kind discriminator rather
// than three interface implementations, matching the tagged-union shape
// the store layer already uses for DocRef.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindSheet    Kind = "sheet"
	KindText     Kind = "text"
)

// Outline is one node of a document's heading/table-of-contents tree.
type Outline struct {
	Title    string    `json:"title"`
	Page     int       `json:"page"`
	Children []Outline `json:"children,omitempty"`
}

// SheetPage is one named sheet/tab of a Sheet document: an optional
// header row plus its data rows.
type SheetPage struct {
	Name    string     `json:"name"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// DocContent is the canonical, format-independent shape every parsed
// document is reduced to before it is stored. Exactly one of Pages or
// Sheets is populated, selected by Kind.
type DocContent struct {
	Kind     Kind        `json:"kind"`
	Title    *string     `json:"title,omitempty"`
	Pages    []string    `json:"pages,omitempty"`
	Outlines []Outline   `json:"outlines,omitempty"`
	Sheets   []SheetPage `json:"sheets,omitempty"`
}

// NewText returns a Text-kind DocContent.
func NewText(title *string, pages []string, outlines []Outline) DocContent {
	return DocContent{Kind: KindText, Title: title, Pages: pages, Outlines: outlines}
}

// NewMarkdown returns a Markdown-kind DocContent.
func NewMarkdown(title *string, pages []string, outlines []Outline) DocContent {
	return DocContent{Kind: KindMarkdown, Title: title, Pages: pages, Outlines: outlines}
}

// NewSheet returns a Sheet-kind DocContent.
func NewSheet(sheets []SheetPage) DocContent {
	return DocContent{Kind: KindSheet, Sheets: sheets}
}

// ToString renders the canonical full-text form used both for
// full-text export and, crucially, as the input to content_hash
// (the hash is over this, never the raw file bytes).
func (c DocContent) ToString() string {
	var b strings.Builder
	if c.Title != nil && *c.Title != "" {
		b.WriteString(*c.Title)
		b.WriteString("\n\n")
	}
	switch c.Kind {
	case KindSheet:
		for i, p := range c.Sheets {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p.Name)
			b.WriteString("\n")
			if len(p.Headers) > 0 {
				b.WriteString(strings.Join(p.Headers, "\t"))
				b.WriteString("\n")
			}
			for _, row := range p.Rows {
				b.WriteString(strings.Join(row, "\t"))
				b.WriteString("\n")
			}
		}
	default: // KindText, KindMarkdown
		for i, page := range c.Pages {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(page)
		}
	}
	return b.String()
}

// SegKind tags which shape a SegContent value holds.
type SegKind string

const (
	SegKindText  SegKind = "text"
	SegKindSheet SegKind = "sheet"
)

// SheetSegment is the sheet-shaped payload of a Sheet-kind SegContent:
// either one column's header+values, or a row-batched slice of a
// sheet, always header-prefixed.
type SheetSegment struct {
	SheetName string     `json:"sheet_name"`
	Headers   []string   `json:"headers,omitempty"`
	Rows      [][]string `json:"rows"`
}

// SegContent is the per-segment payload, sealed over Text and Sheet
// shapes the same way DocContent is. DocFrag is Text-only per the data
// model, so only SegKindText segments are further split into Frags.
type SegContent struct {
	Kind  SegKind      `json:"kind"`
	Text  string       `json:"text,omitempty"`
	Sheet SheetSegment `json:"sheet,omitempty"`
}

// ToString renders a segment's canonical text, used for content_hash
// and as the LLM prompt payload during digestion.
func (s SegContent) ToString() string {
	if s.Kind == SegKindText {
		return s.Text
	}
	var b strings.Builder
	if len(s.Sheet.Headers) > 0 {
		b.WriteString(strings.Join(s.Sheet.Headers, "\t"))
		b.WriteString("\n")
	}
	for _, row := range s.Sheet.Rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Frag is one finest-grained chunk of a Seg, produced only for
// SegKindText segments.
type Frag struct {
	Position int
	Content  string
}

// Seg is one mid-grained chunk of a Part, bounded by SplitBudget.SegTokens.
type Seg struct {
	Position   int
	Content    SegContent
	TokenCount int
	Frags      []Frag
}

// Part is one top-level subdivision of a document (a chapter, or for a
// Sheet a single sheet page).
type Part struct {
	Position int
	Heading  string
	Segs     []Seg
}

// SplitBudget carries the token ceilings the splitter packs against.
type SplitBudget struct {
	SegTokens  int // SPLIT_TOKENS_OF_SEG, default 1600
	FragTokens int // SPLIT_TOKENS_OF_FRAG, default 160
}

// Split decomposes c into Parts→Segs→Frags, dispatching
// on Kind: Sheet splitting is column-then-row (sheet.go); Text and
// Markdown share the sentence/whitespace token-budget splitter
// (splitter.go), with Markdown additionally respecting fences, table
// rows, and heading boundaries.
func (c DocContent) Split(budget SplitBudget) []Part {
	if budget.SegTokens <= 0 {
		budget.SegTokens = 1600
	}
	if budget.FragTokens <= 0 {
		budget.FragTokens = 160
	}
	switch c.Kind {
	case KindSheet:
		return splitSheet(c, budget)
	case KindMarkdown:
		return splitPages(c.Pages, budget, true)
	default:
		return splitPages(c.Pages, budget, false)
	}
}
