package content

import (
	"strings"
	"testing"
)

func TestTextToStringJoinsPagesWithTitle(t *testing.T) {
	title := "Report"
	c := NewText(&title, []string{"page one", "page two"}, nil)
	got := c.ToString()
	if !strings.HasPrefix(got, "Report\n\n") {
		t.Fatalf("expected title prefix, got %q", got)
	}
	if !strings.Contains(got, "page one") || !strings.Contains(got, "page two") {
		t.Fatalf("expected both pages in %q", got)
	}
}

func TestSheetToStringRendersHeadersAndRows(t *testing.T) {
	c := NewSheet([]SheetPage{{
		Name:    "Sheet1",
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"1", "2"}, {"3", "4"}},
	}})
	got := c.ToString()
	if !strings.Contains(got, "a\tb") || !strings.Contains(got, "1\t2") {
		t.Fatalf("expected tab-joined rows in %q", got)
	}
}

func TestEncodeDecodeRoundTripsText(t *testing.T) {
	title := "doc"
	orig := NewText(&title, []string{"hello world", "second page"}, []Outline{{Title: "Intro", Page: 1}})

	encoded, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ToString() != orig.ToString() {
		t.Fatalf("round trip mismatch: got %q want %q", decoded.ToString(), orig.ToString())
	}
	if decoded.Kind != KindText || *decoded.Title != title {
		t.Fatalf("round trip lost kind/title: %+v", decoded)
	}
}

func TestEncodeDecodeRoundTripsSheet(t *testing.T) {
	orig := NewSheet([]SheetPage{{Name: "Sheet1", Headers: []string{"x"}, Rows: [][]string{{"1"}, {"2"}}}})
	encoded, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Sheets) != 1 || decoded.Sheets[0].Name != "Sheet1" {
		t.Fatalf("round trip lost sheet: %+v", decoded)
	}
}

func TestSplitTextRespectsSegAndFragBudgets(t *testing.T) {
	page := strings.Repeat("This is a reasonably long sentence about nothing in particular. ", 60)
	c := NewText(nil, []string{page}, nil)
	parts := c.Split(SplitBudget{SegTokens: 40, FragTokens: 10})

	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if len(parts[0].Segs) < 2 {
		t.Fatalf("expected the long page to split into multiple segs, got %d", len(parts[0].Segs))
	}
	for _, seg := range parts[0].Segs {
		if len(seg.Frags) < 1 {
			t.Fatalf("expected every text seg to have at least one frag")
		}
	}
}

func TestSplitTextNeverSplitsMidWord(t *testing.T) {
	page := strings.Repeat("supercalifragilisticexpialidocious ", 200)
	c := NewText(nil, []string{page}, nil)
	parts := c.Split(SplitBudget{SegTokens: 20, FragTokens: 5})

	for _, part := range parts {
		for _, seg := range part.Segs {
			for _, word := range strings.Fields(seg.Content.Text) {
				if word != "supercalifragilisticexpialidocious" {
					t.Fatalf("expected whole words only, got fragment %q", word)
				}
			}
		}
	}
}

func TestSplitMarkdownKeepsFencedBlockIntact(t *testing.T) {
	page := "# Title\n\nSome intro text.\n\n```go\nfunc main() {\n// a heading-looking line # not a heading\n}\n```\n\nMore text after."
	c := NewMarkdown(nil, []string{page}, nil)
	parts := c.Split(SplitBudget{SegTokens: 1600, FragTokens: 160})

	found := false
	for _, part := range parts {
		for _, seg := range part.Segs {
			if strings.Contains(seg.Content.Text, "```go") {
				found = true
				if !strings.Contains(seg.Content.Text, "```\n") && !strings.HasSuffix(strings.TrimSpace(seg.Content.Text), "```") {
					t.Fatalf("expected fence to stay closed within one seg: %q", seg.Content.Text)
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected to find the fenced block in some segment")
	}
}

func TestSplitMarkdownPrefersHeadingBoundary(t *testing.T) {
	page := "# First\n\nshort body\n\n# Second\n\nshort body 2"
	c := NewMarkdown(nil, []string{page}, nil)
	parts := c.Split(SplitBudget{SegTokens: 1600, FragTokens: 160})
	if len(parts) != 1 {
		t.Fatalf("expected 1 part (one page), got %d", len(parts))
	}
	if len(parts[0].Segs) < 2 {
		t.Fatalf("expected headings to start new segments, got %d segs", len(parts[0].Segs))
	}
}

func TestSplitSheetProducesColumnAndRowSegments(t *testing.T) {
	c := NewSheet([]SheetPage{{
		Name:    "Data",
		Headers: []string{"name", "value"},
		Rows:    [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}},
	}})
	parts := c.Split(SplitBudget{SegTokens: 1600, FragTokens: 160})

	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if len(parts[0].Segs) == 0 {
		t.Fatalf("expected at least one segment")
	}
	for _, seg := range parts[0].Segs {
		if len(seg.Frags) != 0 {
			t.Fatalf("expected no frags for sheet segments, got %d", len(seg.Frags))
		}
		if seg.Content.Kind != SegKindSheet {
			t.Fatalf("expected sheet-kind segment content")
		}
	}
}

func TestSplitSheetSingleColumnSkipsColumnPass(t *testing.T) {
	c := NewSheet([]SheetPage{{Name: "Single", Headers: []string{"only"}, Rows: [][]string{{"1"}, {"2"}}}})
	parts := c.Split(SplitBudget{SegTokens: 1600, FragTokens: 160})
	if len(parts[0].Segs) != 1 {
		t.Fatalf("expected exactly one row-batch segment for a single-column sheet, got %d", len(parts[0].Segs))
	}
}
