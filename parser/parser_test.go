package parser

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	for _, format := range []string{"txt", "pdf", "docx", "epub"} {
		if _, err := r.Get(format); err != nil {
			t.Errorf("Get(%q) returned error: %v", format, err)
		}
	}
	if _, err := r.Get("pptx"); err == nil {
		t.Error("Get(pptx) should fail: not a registered format")
	}
}

func TestTextParserSingleSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("hello world\nsecond line"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(result.Sections))
	}
	if result.Sections[0].Content != "hello world\nsecond line" {
		t.Errorf("content = %q", result.Sections[0].Content)
	}
}

func TestTextParserEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Sections) != 0 {
		t.Errorf("expected no sections for empty file, got %d", len(result.Sections))
	}
}

func TestLooksLikeHeading(t *testing.T) {
	headings := []string{
		"INTRODUCTION",
		"1. Scope",
		"3.9.1 Assembly",
		"Chapter 4 Results",
		"Sección 2 Alcance",
		"Tabla 3 Dimensiones",
	}
	for _, h := range headings {
		if !looksLikeHeading(h) {
			t.Errorf("looksLikeHeading(%q) = false, want true", h)
		}
	}

	prose := []string{
		"the figure skating championship was held in March",
		"this is a normal sentence about nothing in particular",
		strings.Repeat("A", 150),
	}
	for _, p := range prose {
		if looksLikeHeading(p) {
			t.Errorf("looksLikeHeading(%q) = true, want false", p)
		}
	}
}

func TestHeadingLevelFromNumbering(t *testing.T) {
	cases := map[string]int{
		"1. Scope":          1,
		"3.9 Materials":     1,
		"3.9.1 Assembly":    2,
		"7.3.1.2 Tolerance": 3,
		"OVERVIEW":          1,
		"Background notes":  2,
	}
	for heading, want := range cases {
		if got := headingLevel(heading); got != want {
			t.Errorf("headingLevel(%q) = %d, want %d", heading, got, want)
		}
	}
}

func TestSectionizePageFoldsEmptyParents(t *testing.T) {
	text := "2.1 MODELS\n2.1.1 Housing\nmade of cast aluminium"
	sections := sectionizePage(text, 1)
	if len(sections) != 1 {
		t.Fatalf("expected parent folded into child, got %d sections", len(sections))
	}
	if !strings.Contains(sections[0].Heading, "2.1 MODELS") {
		t.Errorf("folded heading = %q, want parent prefix preserved", sections[0].Heading)
	}
	if sections[0].Content != "made of cast aluminium" {
		t.Errorf("content = %q", sections[0].Content)
	}
}

func TestStripRunningHeaders(t *testing.T) {
	// "USER MANUAL" appears on every page; "1. Scope" is real structure.
	var sections []Section
	sections = append(sections, Section{Heading: "1. Scope", Content: "scope text", Level: 1, PageNumber: 1})
	for p := 2; p <= 8; p++ {
		sections = append(sections, Section{Heading: "USER MANUAL", Content: "continued text", Level: 1, PageNumber: p})
	}

	fixed := stripRunningHeaders(sections, 8)
	for i := 1; i < len(fixed); i++ {
		if fixed[i].Heading != "1. Scope" {
			t.Errorf("section %d heading = %q, want carried-over %q", i, fixed[i].Heading, "1. Scope")
		}
	}
}

func TestStripRunningHeadersShortDocUntouched(t *testing.T) {
	sections := []Section{
		{Heading: "Title", Content: "a", PageNumber: 1},
		{Heading: "Title", Content: "b", PageNumber: 2},
	}
	fixed := stripRunningHeaders(sections, 2)
	if fixed[1].Heading != "Title" {
		t.Errorf("two-page repetition should not count as a running header")
	}
}

// writeMinimalDocx builds an in-memory .docx with two styled headings,
// body paragraphs, and one table.
func writeMinimalDocx(t *testing.T) string {
	t.Helper()
	const documentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Overview</w:t></w:r></w:p>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Details</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
    <w:tbl>
      <w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Value</w:t></w:r></w:p></w:tc></w:tr>
      <w:tr><w:tc><w:p><w:r><w:t>width</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>42</w:t></w:r></w:p></w:tc></w:tr>
    </w:tbl>
  </w:body>
</w:document>`

	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDOCXParserSectionsAndTable(t *testing.T) {
	path := writeMinimalDocx(t)
	result, err := (&DOCXParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Sections) != 3 {
		t.Fatalf("expected 2 heading sections + 1 table, got %d", len(result.Sections))
	}

	if result.Sections[0].Heading != "Overview" || result.Sections[0].Level != 1 {
		t.Errorf("first section = %+v", result.Sections[0])
	}
	if result.Sections[0].Content != "First paragraph." {
		t.Errorf("first content = %q", result.Sections[0].Content)
	}
	if result.Sections[1].Heading != "Details" || result.Sections[1].Level != 2 {
		t.Errorf("second section = %+v", result.Sections[1])
	}
	if result.Sections[1].Content != "Second paragraph." {
		t.Errorf("runs should concatenate, got %q", result.Sections[1].Content)
	}

	table := result.Sections[2]
	if table.Type != "table" {
		t.Errorf("third section type = %q, want table", table.Type)
	}
	if !strings.Contains(table.Content, "| Name | Value |") || !strings.Contains(table.Content, "| width | 42 |") {
		t.Errorf("table content = %q", table.Content)
	}
}

func TestDOCXParserMissingDocumentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("word/other.xml")
	w.Write([]byte("<x/>"))
	zw.Close()
	f.Close()

	if _, err := (&DOCXParser{}).Parse(context.Background(), path); err == nil {
		t.Error("expected error for archive without word/document.xml")
	}
}

func TestCanonicalHeadingStripsArtifacts(t *testing.T) {
	if got := canonicalHeading("MANUAL AV-FM "); got != "MANUAL AV-FM" {
		t.Errorf("canonicalHeading = %q", got)
	}
}
