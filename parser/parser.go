// Package parser turns document files into ordered, heading-aware
// sections. Parsers are pure: file in, sections out — everything
// downstream (hashing, splitting, storage) works on the content model
// the reader builds from these sections.
package parser

import "context"

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // ordered sections extracted from the document
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // heading level (1=top, 2=sub, etc.), 0 for plain runs
	PageNumber int
	Type       string // "section", "table", "paragraph"
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
