package parser

import (
	"context"
	"fmt"
	"os"
)

// TextParser handles plain text (.txt) files: the whole file becomes a
// single untitled section, and the splitter takes it from there.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	if len(data) == 0 {
		return &ParseResult{}, nil
	}

	return &ParseResult{
		Sections: []Section{{
			Content: string(data),
			Type:    "paragraph",
		}},
	}, nil
}
