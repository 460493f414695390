//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(context.Background(), dbPath, 4) // dims=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewFreezesMeta(t *testing.T) {
	s := newTestStore(t)
	if s.Dims() != 4 {
		t.Fatalf("expected dims 4, got %d", s.Dims())
	}
	var version string
	if err := s.readDB.QueryRow(`SELECT value FROM meta WHERE key = 'db_version'`).Scan(&version); err != nil {
		t.Fatalf("reading meta: %v", err)
	}
	if version != "1" {
		t.Fatalf("expected db_version 1, got %q", version)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(context.Background(), dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	defer s.Close()
}

func TestUpsertDocDedupesByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, err := s.CreateAssistant(ctx, "test")
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}

	d := Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")}
	id1, exists1, err := s.UpsertDoc(ctx, d)
	if err != nil {
		t.Fatalf("UpsertDoc: %v", err)
	}
	if exists1 {
		t.Fatal("expected first insert to report exists=false")
	}

	d2 := d
	d2.Path = "b.txt"
	id2, exists2, err := s.UpsertDoc(ctx, d2)
	if err != nil {
		t.Fatalf("UpsertDoc second: %v", err)
	}
	if !exists2 {
		t.Fatal("expected second insert with same content_hash to report exists=true")
	}
	if id1 != id2 {
		t.Fatalf("expected same doc id for same content_hash, got %s vs %s", id1, id2)
	}
}

func TestDeleteDocNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteDoc(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSegVectorAndFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, _ := s.CreateAssistant(ctx, "test")
	docID, _, err := s.UpsertDoc(ctx, Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")})
	if err != nil {
		t.Fatalf("UpsertDoc: %v", err)
	}
	partID, err := s.InsertPart(ctx, DocPart{DocID: docID, Position: 0, Heading: "Intro", ContentHash: "p1"})
	if err != nil {
		t.Fatalf("InsertPart: %v", err)
	}
	segID, err := s.InsertSeg(ctx, DocSeg{
		DocID: docID, PartID: partID, Position: 0,
		Content: "the quick brown fox", TokenCount: 4, ContentHash: "s1",
	}, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("InsertSeg: %v", err)
	}

	vecResults, err := s.VectorSearch(ctx, SegSearch, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(vecResults) != 1 || vecResults[0].ID != segID {
		t.Fatalf("expected one vector hit for %s, got %+v", segID, vecResults)
	}

	ftsResults, err := s.FTSSearch(ctx, SegSearch, "fox", 5)
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(ftsResults) != 1 || ftsResults[0].ID != segID {
		t.Fatalf("expected one FTS hit for %s, got %+v", segID, ftsResults)
	}
}

func TestDigestRetryGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, _ := s.CreateAssistant(ctx, "test")
	docID, _, _ := s.UpsertDoc(ctx, Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")})
	partID, _ := s.InsertPart(ctx, DocPart{DocID: docID, Position: 0, ContentHash: "p1"})
	segID, err := s.InsertSeg(ctx, DocSeg{DocID: docID, PartID: partID, Position: 0, Content: "c", TokenCount: 1, ContentHash: "s1"}, nil)
	if err != nil {
		t.Fatalf("InsertSeg: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.MarkDigestError(ctx, "doc_segs", segID, "boom"); err != nil {
			t.Fatalf("MarkDigestError: %v", err)
		}
	}

	pending, err := s.NotDigested(ctx, "doc_segs", 3, 10)
	if err != nil {
		t.Fatalf("NotDigested: %v", err)
	}
	for _, id := range pending {
		if id == segID {
			t.Fatalf("seg %s should be excluded after hitting the retry limit", segID)
		}
	}
}

func TestDeleteDocCascadesThroughAllTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, _ := s.CreateAssistant(ctx, "test")
	docID, _, err := s.UpsertDoc(ctx, Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")})
	if err != nil {
		t.Fatalf("UpsertDoc: %v", err)
	}
	partID, _ := s.InsertPart(ctx, DocPart{DocID: docID, Position: 0, ContentHash: "p1"})
	segID, err := s.InsertSeg(ctx, DocSeg{
		DocID: docID, PartID: partID, Position: 0,
		Content: "the quick brown fox", TokenCount: 4, ContentHash: "s1",
	}, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("InsertSeg: %v", err)
	}
	if _, err := s.InsertFrag(ctx, DocFrag{
		DocID: docID, SegID: segID, Position: 0, Content: "quick fox", ContentHash: "f1",
	}, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("InsertFrag: %v", err)
	}
	implicitID, err := s.InsertImplicit(ctx, DocImplicit{
		DocID: docID, SourceKind: "seg", SourceID: segID, Content: "foxes are quick",
	}, []float32{0, 0, 1, 0})
	if err != nil {
		t.Fatalf("InsertImplicit: %v", err)
	}
	if _, err := s.InsertKnl(ctx, DocKnl{
		DocID: docID, DocRef: DocRef{Kind: "implicit", ID: implicitID}, Question: "how fast are foxes?",
	}, []float32{0, 0, 0, 1}); err != nil {
		t.Fatalf("InsertKnl: %v", err)
	}

	if err := s.DeleteDoc(ctx, docID); err != nil {
		t.Fatalf("DeleteDoc: %v", err)
	}

	st, err := s.Stats(ctx, asstID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Docs != 0 || st.Parts != 0 || st.Segs != 0 || st.Frags != 0 || st.Implicits != 0 || st.Knls != 0 {
		t.Fatalf("expected every child row deleted, got %+v", st)
	}

	// The external-content FTS indexes must be in sync: a MATCH after
	// the delete must neither error nor return stale rows.
	for _, spec := range []SearchSpec{SegSearch, FragSearch, ImplicitSearch, KnlSearch} {
		hits, err := s.FTSSearch(ctx, spec, "fox OR foxes", 10)
		if err != nil {
			t.Fatalf("FTSSearch(%s) after delete: %v", spec.Table, err)
		}
		if len(hits) != 0 {
			t.Fatalf("expected no stale FTS hits in %s, got %+v", spec.Table, hits)
		}
	}

	// The vec0 rows must be gone too, not just the base rows.
	for _, spec := range []SearchSpec{SegSearch, FragSearch, ImplicitSearch, KnlSearch} {
		var n int64
		q := `SELECT COUNT(*) FROM ` + spec.VecTable
		if err := s.readDB.QueryRowContext(ctx, q).Scan(&n); err != nil {
			t.Fatalf("counting %s: %v", spec.VecTable, err)
		}
		if n != 0 {
			t.Fatalf("expected %s emptied by the cascade, found %d rows", spec.VecTable, n)
		}
	}
}

func TestInsertFragDedupesPerSegment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, _ := s.CreateAssistant(ctx, "test")
	docID, _, _ := s.UpsertDoc(ctx, Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")})
	partID, _ := s.InsertPart(ctx, DocPart{DocID: docID, Position: 0, ContentHash: "p1"})
	seg1, _ := s.InsertSeg(ctx, DocSeg{DocID: docID, PartID: partID, Position: 0, Content: "a", TokenCount: 1, ContentHash: "s1"}, nil)
	seg2, _ := s.InsertSeg(ctx, DocSeg{DocID: docID, PartID: partID, Position: 1, Content: "b", TokenCount: 1, ContentHash: "s2"}, nil)

	id1, err := s.InsertFrag(ctx, DocFrag{DocID: docID, SegID: seg1, Position: 0, Content: "same text", ContentHash: "fh"}, nil)
	if err != nil {
		t.Fatalf("InsertFrag seg1: %v", err)
	}
	dup, err := s.InsertFrag(ctx, DocFrag{DocID: docID, SegID: seg1, Position: 3, Content: "same text", ContentHash: "fh"}, nil)
	if err != nil {
		t.Fatalf("InsertFrag seg1 dup: %v", err)
	}
	if dup != id1 {
		t.Fatalf("identical text in the same seg should collapse, got %s and %s", id1, dup)
	}

	other, err := s.InsertFrag(ctx, DocFrag{DocID: docID, SegID: seg2, Position: 0, Content: "same text", ContentHash: "fh"}, nil)
	if err != nil {
		t.Fatalf("InsertFrag seg2: %v", err)
	}
	if other == id1 {
		t.Fatal("identical text in a different seg must keep its own row")
	}
}

func TestInsertKnlDedupesPerDocQuestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asstID, _ := s.CreateAssistant(ctx, "test")
	docID, _, _ := s.UpsertDoc(ctx, Doc{AssistantID: asstID, Path: "a.txt", Format: "txt", ContentHash: "h1", Content: []byte("x")})

	id1, err := s.InsertKnl(ctx, DocKnl{
		DocID: docID, DocRef: DocRef{Kind: "frag", ID: "frag-1"}, Question: "when does it close?",
	}, nil)
	if err != nil {
		t.Fatalf("InsertKnl: %v", err)
	}
	id2, err := s.InsertKnl(ctx, DocKnl{
		DocID: docID, DocRef: DocRef{Kind: "implicit", ID: "imp-1"}, Question: "when does it close?",
	}, nil)
	if err != nil {
		t.Fatalf("InsertKnl dup: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("same trigger under the same doc must collapse regardless of ref, got %s and %s", id1, id2)
	}

	ref, err := s.GetKnlRef(ctx, id1)
	if err != nil {
		t.Fatalf("GetKnlRef: %v", err)
	}
	if ref.Kind != "implicit" || ref.ID != "imp-1" {
		t.Fatalf("upsert should rewrite doc_ref to the latest source, got %+v", ref)
	}
}
