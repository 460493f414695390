// Package reader implements format dispatch, content-hash dedup, and
// synchronous part/seg/frag insertion for newly ingested documents.
package reader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/aiter/parser"
	"github.com/brunobiangulo/aiter/parser/content"
	"github.com/brunobiangulo/aiter/signature"
	"github.com/brunobiangulo/aiter/store"
)

// recognizedFormats is the full set of ingestable file extensions.
var recognizedFormats = map[string]bool{
	"csv": true, "docx": true, "epub": true, "md": true, "pdf": true, "txt": true,
	"xlsx": true, "xls": true, "xlsm": true, "xlsb": true, "xla": true, "xlam": true, "ods": true,
}

// Kind classifies a reader Error, mirroring the root package's [Kind]
// taxonomy without importing it, so this leaf package stays
// import-cycle-free with respect to the root Engine.
type Kind string

const (
	KindUnsupported Kind = "Unsupported"
	KindInvalid     Kind = "Invalid"
	KindParse       Kind = "Parse"
	KindStore       Kind = "Store"
)

// Error is a Kind-tagged error, rendered "[Kind] message"
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Options controls one ReadDoc call.
type Options struct {
	// Filename overrides the source name recorded on the Doc (defaults
	// to path's base name).
	Filename string
	// Format overrides format detection (defaults to the lowercased
	// file extension).
	Format string
	// Keep, if true, copies the original file bytes into the store's
	// docs_<assistant_id> directory for later retrieval.
	Keep bool
	// Progress, if non-nil, receives one message per inserted segment;
	// a message that finds the channel full is dropped.
	Progress chan<- string
}

// ReadDoc parses path, computes its content hash, and either returns
// the existing Doc (already ingested) or inserts a new Doc plus its
// full Part/Seg/Frag hierarchy. docsDir is where opts.Keep copies the
// original bytes (<docsDir>/docs_<assistant_id>/<doc_id>).
func ReadDoc(ctx context.Context, s *store.Store, reg *parser.Registry, assistantID, path, docsDir string, opts Options, budget content.SplitBudget, dims int) (docID string, exists bool, err error) {
	format := opts.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	if !recognizedFormats[format] {
		return "", false, newErr(KindUnsupported, fmt.Sprintf("unsupported document format %q", format), nil)
	}

	dc, err := convertToDocContent(ctx, path, format, reg)
	if err != nil {
		return "", false, newErr(KindParse, fmt.Sprintf("parsing %s", path), err)
	}

	canonical := dc.ToString()
	if strings.TrimSpace(canonical) == "" {
		return "", false, newErr(KindInvalid, fmt.Sprintf("%s is empty", path), nil)
	}
	hash := contentHash(canonical)

	encoded, err := dc.Encode()
	if err != nil {
		return "", false, newErr(KindParse, "encoding doc content", err)
	}

	filename := opts.Filename
	if filename == "" {
		filename = filepath.Base(path)
	}

	doc := store.Doc{
		AssistantID: assistantID,
		Path:        filename,
		Format:      format,
		ContentHash: hash,
		Content:     encoded,
		Title:       titleOf(dc),
		Preview:     preview(canonical),
	}
	if sig, sigErr := signature.MinHash(signature.Tokenize(canonical), dims); sigErr == nil {
		doc.ContentSig = serializeSig(sig)
	}

	docID, exists, err = s.UpsertDoc(ctx, doc)
	if err != nil {
		return "", false, newErr(KindStore, "upserting doc", err)
	}
	if exists {
		return docID, true, nil
	}

	if err := insertHierarchy(ctx, s, docID, dc.Split(budget), dims, opts.Progress); err != nil {
		return docID, false, newErr(KindStore, "inserting doc hierarchy", err)
	}

	if opts.Keep {
		if err := copyBlob(docsDir, docID, assistantID, path); err != nil {
			return docID, false, newErr(KindStore, "keeping original blob", err)
		}
	}

	return docID, false, nil
}

// insertHierarchy writes every Part, Seg, and Frag from a split
// DocContent through the store's writer actor, in position order.
func insertHierarchy(ctx context.Context, s *store.Store, docID string, parts []content.Part, dims int, progress chan<- string) error {
	for _, part := range parts {
		partID, err := s.InsertPart(ctx, store.DocPart{
			DocID:       docID,
			Position:    part.Position,
			Heading:     part.Heading,
			ContentHash: contentHash(fmt.Sprintf("%s:%d", part.Heading, part.Position)),
		})
		if err != nil {
			return fmt.Errorf("inserting part %d: %w", part.Position, err)
		}

		for _, seg := range part.Segs {
			segText := seg.Content.ToString()
			segHash := contentHash(segText)
			segSig, _ := signature.MinHash(signature.Tokenize(segText), dims)

			segID, err := s.InsertSeg(ctx, store.DocSeg{
				DocID:       docID,
				PartID:      partID,
				Position:    seg.Position,
				Content:     segText,
				Kind:        string(seg.Content.Kind),
				TokenCount:  seg.TokenCount,
				ContentHash: segHash,
			}, segSig)
			if err != nil {
				return fmt.Errorf("inserting seg %d: %w", seg.Position, err)
			}
			if progress != nil {
				select {
				case progress <- fmt.Sprintf("inserted segment %s", segID):
				default:
				}
			}

			for _, frag := range seg.Frags {
				fragHash := contentHash(frag.Content)
				fragSig, _ := signature.MinHash(signature.Tokenize(frag.Content), dims)
				if _, err := s.InsertFrag(ctx, store.DocFrag{
					DocID:       docID,
					SegID:       segID,
					Position:    frag.Position,
					Content:     frag.Content,
					ContentHash: fragHash,
				}, fragSig); err != nil {
					return fmt.Errorf("inserting frag %d: %w", frag.Position, err)
				}
			}
		}
	}
	return nil
}

// copyBlob copies path's bytes into <docsDir>/docs_<assistant_id>/<doc_id>.
func copyBlob(docsDir, docID, assistantID, path string) error {
	dir := filepath.Join(docsDir, fmt.Sprintf("docs_%s", assistantID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := filepath.Join(dir, docID)
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return nil
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func titleOf(dc content.DocContent) string {
	if dc.Title != nil {
		return *dc.Title
	}
	return ""
}

func preview(canonical string) string {
	runes := []rune(strings.TrimSpace(canonical))
	if len(runes) <= 100 {
		return string(runes)
	}
	return string(runes[:100])
}

func serializeSig(sig signature.Signature) []byte {
	out := make([]byte, 4*len(sig))
	for i, v := range sig {
		bits := math.Float32bits(v)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}
