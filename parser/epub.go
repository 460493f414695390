package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// EPUBParser handles .epub files by reading the OCF container
// directly: parse META-INF/container.xml for the OPF path, parse the
// OPF spine/manifest for reading order, then strip XHTML tags from
// each spine item.
type EPUBParser struct{}

func (p *EPUBParser) SupportedFormats() []string { return []string{"epub"} }

func (p *EPUBParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening epub as zip: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	opfPath, err := findOPFPath(files)
	if err != nil {
		return nil, err
	}
	opf, err := readZipFile(files[opfPath])
	if err != nil {
		return nil, fmt.Errorf("reading OPF: %w", err)
	}

	spineItems, err := parseOPF(opf)
	if err != nil {
		return nil, fmt.Errorf("parsing OPF spine: %w", err)
	}

	base := ""
	if idx := strings.LastIndex(opfPath, "/"); idx >= 0 {
		base = opfPath[:idx+1]
	}

	var sections []Section
	for i, href := range spineItems {
		f, ok := files[base+href]
		if !ok {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			continue
		}
		text := stripXHTMLTags(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, Section{
			Heading: fmt.Sprintf("chapter-%d", i+1),
			Content: text,
			Level:   1,
			Type:    "section",
		})
	}

	return &ParseResult{Sections: sections}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type ocfContainer struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath string `xml:"full-path,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

func findOPFPath(files map[string]*zip.File) (string, error) {
	cf, ok := files["META-INF/container.xml"]
	if !ok {
		return "", fmt.Errorf("epub missing META-INF/container.xml")
	}
	data, err := readZipFile(cf)
	if err != nil {
		return "", err
	}
	var c ocfContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parsing container.xml: %w", err)
	}
	if len(c.Rootfiles.Rootfile) == 0 {
		return "", fmt.Errorf("epub container.xml has no rootfile")
	}
	return c.Rootfiles.Rootfile[0].FullPath, nil
}

type opfPackage struct {
	Manifest struct {
		Items []struct {
			ID   string `xml:"id,attr"`
			Href string `xml:"href,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func parseOPF(data []byte) ([]string, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, it := range pkg.Manifest.Items {
		hrefByID[it.ID] = it.Href
	}
	hrefs := make([]string, 0, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		if href, ok := hrefByID[ref.IDRef]; ok {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs, nil
}

var (
	xhtmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	xhtmlSpaceRe = regexp.MustCompile(`[ \t]+`)
)

// stripXHTMLTags removes markup and collapses whitespace. A full XHTML
// DOM walk is unnecessary: the content model only needs plain text.
func stripXHTMLTags(raw []byte) string {
	text := xhtmlTagRe.ReplaceAllString(string(raw), "\n")
	text = xhtmlSpaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "\n")
}
