package content

import (
	"strings"

	"github.com/brunobiangulo/aiter/signature"
)

// splitSheet implements column-then-row Sheet splitting: one Part per
// sheet page. If the sheet is wider than one column, each column
// becomes its own row-budgeted segment series (header + that column's
// values); then the whole sheet's rows are batched, header-prefixed,
// by the same budget. Fragments are never produced for Sheet segments.
func splitSheet(c DocContent, budget SplitBudget) []Part {
	parts := make([]Part, 0, len(c.Sheets))
	for i, page := range c.Sheets {
		part := Part{Position: i, Heading: page.Name}
		pos := 0

		if len(page.Headers) > 1 {
			for col, header := range page.Headers {
				values := columnValues(page.Rows, col)
				for _, rows := range batchRows(values, budget.SegTokens, header) {
					part.Segs = append(part.Segs, sheetSeg(pos, page.Name, []string{header}, rows))
					pos++
				}
			}
		}

		for _, rows := range batchRows(page.Rows, budget.SegTokens, strings.Join(page.Headers, "\t")) {
			part.Segs = append(part.Segs, sheetSeg(pos, page.Name, page.Headers, rows))
			pos++
		}

		parts = append(parts, part)
	}
	return parts
}

// sheetSeg wraps one batch of rows into a Seg, its TokenCount counted
// over the segment's rendered text exactly as Text/Markdown segments are.
func sheetSeg(position int, sheetName string, headers []string, rows [][]string) Seg {
	sc := SegContent{Kind: SegKindSheet, Sheet: SheetSegment{SheetName: sheetName, Headers: headers, Rows: rows}}
	return Seg{Position: position, Content: sc, TokenCount: signature.LLMTokens(sc.ToString())}
}

// columnValues extracts one column's row-values as single-element rows,
// so the column split reuses the same [][]string shape as a full sheet.
func columnValues(rows [][]string, col int) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			out = append(out, []string{row[col]})
		} else {
			out = append(out, []string{""})
		}
	}
	return out
}

// batchRows groups rows into header-prefixed batches, each at most
// segTokens tiktoken-go tokens including the header prefix. A single
// row that alone would exceed the budget still becomes its own batch
// rather than being silently dropped.
func batchRows(rows [][]string, segTokens int, headerPrefix string) [][][]string {
	if len(rows) == 0 {
		return nil
	}
	headerTokens := signature.LLMTokens(headerPrefix)

	var batches [][][]string
	var cur [][]string
	curTokens := headerTokens

	flush := func() {
		if len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			curTokens = headerTokens
		}
	}

	for _, row := range rows {
		rowText := strings.Join(row, "\t")
		rowTokens := signature.LLMTokens(rowText)
		if curTokens+rowTokens > segTokens && len(cur) > 0 {
			flush()
		}
		cur = append(cur, row)
		curTokens += rowTokens
	}
	flush()
	return batches
}
