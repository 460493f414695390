package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DOCXParser reads the WordprocessingML body of a .docx archive,
// grouping runs under their nearest Heading/Title-styled paragraph and
// flattening tables into pipe-delimited rows.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	sections, err := sectionizeWordML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return &ParseResult{Sections: sections}, nil
}

type wordDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    wordBody `xml:"body"`
}

type wordBody struct {
	Paras  []wordPara  `xml:"p"`
	Tables []wordTable `xml:"tbl"`
}

type wordPara struct {
	Props *wordParaProps `xml:"pPr"`
	Runs  []wordRun      `xml:"r"`
}

type wordParaProps struct {
	Style *wordStyle `xml:"pStyle"`
}

type wordStyle struct {
	Val string `xml:"val,attr"`
}

type wordRun struct {
	Text []wordText `xml:"t"`
}

type wordText struct {
	Content string `xml:",chardata"`
}

type wordTable struct {
	Rows []wordRow `xml:"tr"`
}

type wordRow struct {
	Cells []wordCell `xml:"tc"`
}

type wordCell struct {
	Paras []wordPara `xml:"p"`
}

// sectionizeWordML walks the document body: paragraph text accumulates
// under the most recent heading, and each table becomes its own
// pipe-delimited section.
func sectionizeWordML(data []byte) ([]Section, error) {
	var doc wordDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var sections []Section
	var heading string
	var level int
	var body strings.Builder

	flush := func() {
		if body.Len() == 0 && heading == "" {
			return
		}
		sections = append(sections, Section{
			Heading: heading,
			Content: strings.TrimSpace(body.String()),
			Level:   level,
			Type:    "section",
		})
		body.Reset()
	}

	for _, para := range doc.Body.Paras {
		text := paraText(para)
		if text == "" {
			continue
		}
		style := ""
		if para.Props != nil && para.Props.Style != nil {
			style = strings.ToLower(para.Props.Style.Val)
		}
		if strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title") {
			flush()
			heading = text
			level = styleLevel(style)
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		body.WriteString(text)
	}
	flush()

	for _, tbl := range doc.Body.Tables {
		var rows strings.Builder
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText []string
				for _, p := range cell.Paras {
					if t := paraText(p); t != "" {
						cellText = append(cellText, t)
					}
				}
				cells = append(cells, strings.Join(cellText, " "))
			}
			rows.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		if rows.Len() > 0 {
			sections = append(sections, Section{Content: rows.String(), Type: "table"})
		}
	}

	return sections, nil
}

func paraText(para wordPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}

// styleLevel reads the depth out of "heading1".."heading9"; "title" and
// unnumbered heading styles count as top-level.
func styleLevel(style string) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(style, "heading")); err == nil && n >= 1 && n <= 9 {
		return n
	}
	return 1
}
