// Package signature implements the word tokenizer and densified
// one-permutation minhash sketch used to build approximate-similarity
// signatures for every retrievable row.
package signature

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// emojiRanges approximates the Extended_Pictographic Unicode property.
// The stdlib unicode package does not ship this table directly, so the
// common emoji blocks are hand-listed here, grounded in the same
// range-table style the pack's x/text usage favors for Unicode-class
// classification.
var emojiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x203C, Hi: 0x3299, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1FAFF, Stride: 1},
	},
}

// isSeparator reports whether r belongs to a Unicode general category
// that splits words: Control (C), Punctuation (P), Separator (Z), or
// is an emoji/pictographic code point.
func isSeparator(r rune) bool {
	return unicode.IsControl(r) || unicode.Is(unicode.C, r) ||
		unicode.Is(unicode.P, r) || unicode.Is(unicode.Z, r) ||
		unicode.Is(emojiRanges, r)
}

// isCJK reports whether r is a CJK ideograph or kana/hangul grapheme,
// each of which becomes its own word rather than merging into a run.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// Tokenize splits text into case-folded words: CJK
// graphemes are individual words, runs of other non-separator runes
// merge into one word, and separators (C, P, Z, emoji) are dropped.
func Tokenize(text string) []string {
	normalized := norm.NFKC.String(text)
	runes := []rune(normalized)

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	for _, r := range runes {
		switch {
		case isCJK(r):
			flush()
			words = append(words, strings.ToLower(string(r)))
		case isSeparator(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
