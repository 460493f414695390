//go:build cgo

package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/aiter/parser"
	"github.com/brunobiangulo/aiter/parser/content"
	"github.com/brunobiangulo/aiter/store"
)

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(context.Background(), dbPath, 32)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func writeTempFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func testBudget() content.SplitBudget {
	return content.SplitBudget{SegTokens: 50, FragTokens: 15}
}

func TestReadDocInsertsNewDocAndHierarchy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	path := writeTempFile(t, "note.txt", "This is a simple note about testing the reader. It has a couple of sentences.")
	reg := parser.NewRegistry()

	docID, exists, err := ReadDoc(ctx, s, reg, asstID, path, t.TempDir(), Options{}, testBudget(), 32)
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for a first read")
	}
	if docID == "" {
		t.Fatal("expected a non-empty doc ID")
	}

	parts, err := s.GetPartsByDoc(ctx, docID)
	if err != nil {
		t.Fatalf("GetPartsByDoc: %v", err)
	}
	if len(parts) == 0 {
		t.Fatal("expected at least one part")
	}

	segs, err := s.GetSegsByPart(ctx, parts[0].ID)
	if err != nil {
		t.Fatalf("GetSegsByPart: %v", err)
	}
	if len(segs) == 0 {
		t.Fatal("expected at least one segment")
	}
}

func TestReadDocDedupesByContentHash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	body := "Duplicate content, read twice from two different filenames."
	path1 := writeTempFile(t, "a.txt", body)
	path2 := writeTempFile(t, "b.txt", body)
	reg := parser.NewRegistry()

	id1, exists1, err := ReadDoc(ctx, s, reg, asstID, path1, t.TempDir(), Options{}, testBudget(), 32)
	if err != nil {
		t.Fatalf("ReadDoc first: %v", err)
	}
	if exists1 {
		t.Fatal("expected first read to be new")
	}

	id2, exists2, err := ReadDoc(ctx, s, reg, asstID, path2, t.TempDir(), Options{}, testBudget(), 32)
	if err != nil {
		t.Fatalf("ReadDoc second: %v", err)
	}
	if !exists2 {
		t.Fatal("expected second read with identical canonical text to dedupe")
	}
	if id1 != id2 {
		t.Fatalf("expected same doc ID for deduped content, got %q and %q", id1, id2)
	}
}

func TestReadDocRejectsEmptyFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	path := writeTempFile(t, "empty.txt", "")
	reg := parser.NewRegistry()

	_, _, err = ReadDoc(ctx, s, reg, asstID, path, t.TempDir(), Options{}, testBudget(), 32)
	if err == nil {
		t.Fatal("expected an error for an empty file")
	}
}

func TestReadDocRejectsUnsupportedFormat(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	path := writeTempFile(t, "binary.exe", "not a real binary, just unsupported")
	reg := parser.NewRegistry()

	_, _, err = ReadDoc(ctx, s, reg, asstID, path, t.TempDir(), Options{}, testBudget(), 32)
	if err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}

func TestReadDocKeepsOriginalBlob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	path := writeTempFile(t, "keep.txt", "Keep this file's original bytes on disk after ingestion.")
	docsDir := t.TempDir()
	reg := parser.NewRegistry()

	docID, _, err := ReadDoc(ctx, s, reg, asstID, path, docsDir, Options{Keep: true}, testBudget(), 32)
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}

	blobPath := filepath.Join(docsDir, "docs_"+asstID, docID)
	if _, err := os.Stat(blobPath); err != nil {
		t.Fatalf("expected kept blob at %s: %v", blobPath, err)
	}
}

func TestReadDocCSVPreservesHeadersAndRows(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	path := writeTempFile(t, "data.csv", "name,value\nalpha,1\nbeta,2\n")
	reg := parser.NewRegistry()

	docID, _, err := ReadDoc(ctx, s, reg, asstID, path, t.TempDir(), Options{}, testBudget(), 32)
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}

	parts, err := s.GetPartsByDoc(ctx, docID)
	if err != nil {
		t.Fatalf("GetPartsByDoc: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 part for a single-sheet csv, got %d", len(parts))
	}
	segs, err := s.GetSegsByPart(ctx, parts[0].ID)
	if err != nil {
		t.Fatalf("GetSegsByPart: %v", err)
	}
	found := false
	for _, seg := range segs {
		if seg.Content != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected non-empty segment content for csv rows")
	}
}
