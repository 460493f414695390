package content

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/aiter/signature"
)

// mdHeadingRe matches ATX heading lines (reader/convert.go keeps its own
// copy), used here to prefer heading boundaries when packing Markdown
// blocks.
var mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// splitPages turns a Text or Markdown document's pages into Parts: one
// Part per page, each holding the page's Segs/Frags. markdownAware
// switches on fence/table/heading handling.
func splitPages(pages []string, budget SplitBudget, markdownAware bool) []Part {
	parts := make([]Part, 0, len(pages))
	for i, page := range pages {
		var segTexts []string
		if markdownAware {
			segTexts = splitMarkdownBudgeted(page, budget.SegTokens)
		} else {
			segTexts = splitTextBudgeted(page, budget.SegTokens)
		}

		heading := ""
		if markdownAware {
			heading = firstHeading(page)
		}

		part := Part{Position: i, Heading: heading}
		for segPos, segText := range segTexts {
			seg := Seg{
				Position:   segPos,
				Content:    SegContent{Kind: SegKindText, Text: segText},
				TokenCount: signature.LLMTokens(segText),
			}
			fragTexts := splitTextBudgeted(segText, budget.FragTokens)
			for fragPos, fragText := range fragTexts {
				seg.Frags = append(seg.Frags, Frag{Position: fragPos, Content: fragText})
			}
			part.Segs = append(part.Segs, seg)
		}
		parts = append(parts, part)
	}
	return parts
}

// firstHeading returns the text of the first ATX heading line in page,
// or "" if none is found, used as the Part's heading for Markdown.
func firstHeading(page string) string {
	for _, line := range strings.Split(page, "\n") {
		if m := mdHeadingRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}

// splitSentences breaks text at sentence boundaries: punctuation
// followed by whitespace or end-of-string is treated as a boundary.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitTextBudgeted packs text into chunks of at most maxTokens
// tiktoken-go tokens, preferring sentence boundaries and falling back
// to whitespace-delimited words for any sentence that alone exceeds
// the budget. It never splits mid-token: every returned chunk is
// itself a concatenation of whole words.
func splitTextBudgeted(text string, maxTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if signature.LLMTokens(text) <= maxTokens {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
			curTokens = 0
		}
	}

	for _, sent := range splitSentences(text) {
		sentTokens := signature.LLMTokens(sent)
		if sentTokens > maxTokens {
			flush()
			chunks = append(chunks, splitWordsBudgeted(sent, maxTokens)...)
			continue
		}
		if curTokens+sentTokens > maxTokens && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sent)
		curTokens += sentTokens
	}
	flush()
	return chunks
}

// splitWordsBudgeted is the whitespace fallback for a single sentence
// too long to fit maxTokens on its own: words are accumulated until
// the next word would exceed the budget.
func splitWordsBudgeted(text string, maxTokens int) []string {
	words := strings.Fields(text)
	var chunks []string
	var cur strings.Builder
	curTokens := 0

	for _, w := range words {
		wTokens := signature.LLMTokens(w)
		if curTokens+wTokens > maxTokens && cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curTokens = 0
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(w)
		curTokens += wTokens
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// mdBlock is one indivisible unit of a markdown-aware pack: a heading
// line, a fenced code block, a contiguous run of table rows, or a
// plain paragraph.
type mdBlock struct {
	text    string
	isFence bool
	isTable bool
	heading bool
}

// splitMarkdownBudgeted packs a markdown page into chunks of at most
// maxTokens, never splitting inside a fenced code block or a
// contiguous run of `|`-delimited table rows, and preferring to start
// a new chunk at a heading line.
func splitMarkdownBudgeted(page string, maxTokens int) []string {
	blocks := markdownBlocks(page)
	if len(blocks) == 0 {
		return nil
	}

	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
			curTokens = 0
		}
	}

	for _, blk := range blocks {
		blkTokens := signature.LLMTokens(blk.text)

		startsNew := blk.heading && cur.Len() > 0
		overflows := curTokens+blkTokens > maxTokens && cur.Len() > 0
		if startsNew || overflows {
			flush()
		}

		if blkTokens > maxTokens && !blk.isFence && !blk.isTable {
			flush()
			chunks = append(chunks, splitTextBudgeted(blk.text, maxTokens)...)
			continue
		}

		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(blk.text)
		curTokens += blkTokens
	}
	flush()
	return chunks
}

// markdownBlocks groups a markdown page's lines into fence/table/
// heading/paragraph blocks, tracking fence state so a "#" inside a
// fence is never mistaken for a heading, and grouping consecutive `|`-delimited lines
// into one table block so a row is never split across chunks.
func markdownBlocks(page string) []mdBlock {
	lines := strings.Split(page, "\n")
	var blocks []mdBlock
	var para strings.Builder
	var fence strings.Builder
	var table strings.Builder
	inFence := false
	inTable := false

	flushPara := func() {
		if para.Len() > 0 {
			blocks = append(blocks, mdBlock{text: strings.TrimRight(para.String(), "\n")})
			para.Reset()
		}
	}
	flushTable := func() {
		if table.Len() > 0 {
			blocks = append(blocks, mdBlock{text: strings.TrimRight(table.String(), "\n"), isTable: true})
			table.Reset()
		}
		inTable = false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				fence.WriteString(line)
				fence.WriteByte('\n')
				blocks = append(blocks, mdBlock{text: strings.TrimRight(fence.String(), "\n"), isFence: true})
				fence.Reset()
				inFence = false
			} else {
				flushPara()
				flushTable()
				fence.WriteString(line)
				fence.WriteByte('\n')
				inFence = true
			}
			continue
		}
		if inFence {
			fence.WriteString(line)
			fence.WriteByte('\n')
			continue
		}

		if strings.Contains(trimmed, "|") && trimmed != "" {
			flushPara()
			inTable = true
			table.WriteString(line)
			table.WriteByte('\n')
			continue
		}
		if inTable {
			flushTable()
		}

		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			flushPara()
			blocks = append(blocks, mdBlock{text: line, heading: true})
			continue
		}

		para.WriteString(line)
		para.WriteByte('\n')
	}
	flushPara()
	flushTable()
	return blocks
}
