package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brunobiangulo/aiter/signature"
)

// jaccardScore is the minhash-Jaccard similarity between a query
// signature and a row's stored signature. A missing signature on
// either side scores zero.
func jaccardScore(query, row []float32) float64 {
	return signature.Jaccard(signature.Signature(query), signature.Signature(row))
}

// SearchSpec names the base/vec/fts table triad and context column
// for one retrieval target.
type SearchSpec struct {
	Table       string // "doc_frags" | "doc_segs" | "doc_implicits" | "doc_knls" | "skills"
	VecTable    string
	FTSTable    string
	RowidCol    string // vec/fts rowid column name in the vec table, e.g. "frag_rowid"
	ContentCol  string // column holding the primary searchable text
	ContextExpr string // SQL expression for the human-facing context prefix
}

var (
	SegSearch = SearchSpec{
		Table: "doc_segs", VecTable: "vec_doc_segs", FTSTable: "fts_doc_segs",
		RowidCol: "seg_rowid", ContentCol: "content",
		ContextExpr: "COALESCE((SELECT heading FROM doc_parts WHERE doc_parts.id = t.part_id), '')",
	}
	FragSearch = SearchSpec{
		Table: "doc_frags", VecTable: "vec_doc_frags", FTSTable: "fts_doc_frags",
		RowidCol: "frag_rowid", ContentCol: "content",
		ContextExpr: "''",
	}
	ImplicitSearch = SearchSpec{
		Table: "doc_implicits", VecTable: "vec_doc_implicits", FTSTable: "fts_doc_implicits",
		RowidCol: "implicit_rowid", ContentCol: "content",
		ContextExpr: "source_kind",
	}
	KnlSearch = SearchSpec{
		Table: "doc_knls", VecTable: "vec_doc_knls", FTSTable: "fts_doc_knls",
		RowidCol: "knl_rowid", ContentCol: "question",
		ContextExpr: "doc_ref_kind",
	}
	SkillSearch = SearchSpec{
		Table: "skills", VecTable: "vec_skills", FTSTable: "fts_skills",
		RowidCol: "skill_rowid", ContentCol: "description",
		ContextExpr: "name",
	}
)

// VectorSearch returns the top-k nearest rows to query in spec, each
// carrying its stored signature so callers can recompute the
// minhash-Jaccard similarity against the query's signature. The
// sqlite-vec distance only orders the candidate window; the returned
// Score is already the Jaccard similarity.
func (s *Store) VectorSearch(ctx context.Context, spec SearchSpec, query []float32, k int) ([]RetrievalResult, error) {
	q := fmt.Sprintf(`
		SELECT t.id, t.doc_id, t.%[3]s, %[4]s, v.signature
		FROM %[2]s v
		JOIN %[1]s t ON t.rowid = v.%[5]s
		WHERE v.signature MATCH ? AND k = ?
		ORDER BY v.distance`,
		spec.Table, spec.VecTable, spec.ContentCol, spec.ContextExpr, spec.RowidCol)

	rows, err := s.readDB.QueryContext(ctx, q, serializeFloat32(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var sig []byte
		if err := rows.Scan(&r.ID, &r.DocID, &r.Content, &r.Context, &sig); err != nil {
			return nil, err
		}
		r.Table = spec.Table
		r.Signature = deserializeFloat32(sig)
		r.Score = jaccardScore(query, r.Signature)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FTSSearch performs an FTS5 BM25 search against one knowledge table.
// BM25 rank only selects and orders the candidate window; each hit's
// stored signature rides along so the caller can score it by
// minhash-Jaccard against the query's signature, keeping scores
// commensurable with vector hits.
func (s *Store) FTSSearch(ctx context.Context, spec SearchSpec, query string, limit int) ([]RetrievalResult, error) {
	q := fmt.Sprintf(`
		SELECT t.id, t.doc_id, t.%[3]s, %[4]s, v.signature
		FROM %[2]s f
		JOIN %[1]s t ON t.rowid = f.rowid
		LEFT JOIN %[5]s v ON v.%[6]s = t.rowid
		WHERE %[2]s MATCH ?
		ORDER BY f.rank LIMIT ?`,
		spec.Table, spec.FTSTable, spec.ContentCol, spec.ContextExpr, spec.VecTable, spec.RowidCol)

	rows, err := s.readDB.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var sig []byte
		if err := rows.Scan(&r.ID, &r.DocID, &r.Content, &r.Context, &sig); err != nil {
			return nil, err
		}
		r.Table = spec.Table
		r.Signature = deserializeFloat32(sig)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FragWindow is one frag in a position-ordered window around a hit,
// used to join neighbour fragments by spaces.
type FragWindow struct {
	ID       string
	DocID    string
	Content  string
	Position int
}

// FragNeighbors returns fragID's window of ±`surround` frags within its
// segment, ordered by position and including fragID itself, for the
// doc_frag table's RETRIEVE_FRAG_SURROUND expansion, doubled
// in deep mode by the caller.
func (s *Store) FragNeighbors(ctx context.Context, fragID string, surround int) ([]FragWindow, error) {
	var segID string
	var position int
	row := s.readDB.QueryRowContext(ctx, `SELECT seg_id, position FROM doc_frags WHERE id = ?`, fragID)
	if err := row.Scan(&segID, &position); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, doc_id, content, position FROM doc_frags
		WHERE seg_id = ? AND position BETWEEN ? AND ?
		ORDER BY position`, segID, position-surround, position+surround)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FragWindow
	for rows.Next() {
		var w FragWindow
		if err := rows.Scan(&w.ID, &w.DocID, &w.Content, &w.Position); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetKnlRef returns the doc_ref tagged pointer for a doc_knl row, so
// the caller can resolve it through to the underlying frag/seg/implicit
// content.
func (s *Store) GetKnlRef(ctx context.Context, knlID string) (DocRef, error) {
	var ref DocRef
	row := s.readDB.QueryRowContext(ctx, `SELECT doc_ref_kind, doc_ref_id FROM doc_knls WHERE id = ?`, knlID)
	err := row.Scan(&ref.Kind, &ref.ID)
	if err == sql.ErrNoRows {
		return ref, ErrNotFound
	}
	return ref, err
}

// ResolveRef returns the source text a DocRef points to, for doc_knl
// hits. A seg ref resolves to the segment's summary normally and to
// its full content in deep mode; the other kinds are unaffected by
// deep.
func (s *Store) ResolveRef(ctx context.Context, ref DocRef, deep bool) (content, docID string, err error) {
	var table, col, docCol string
	switch ref.Kind {
	case "frag":
		table, col, docCol = "doc_frags", "content", "doc_id"
	case "seg":
		table, col, docCol = "doc_segs", "content", "doc_id"
		if !deep {
			col = "summary"
		}
	case "implicit":
		table, col, docCol = "doc_implicits", "content", "doc_id"
	case "part":
		table, col, docCol = "doc_parts", "summary", "doc_id"
	default:
		table, col, docCol = "docs", "summary", "id"
	}
	q := fmt.Sprintf(`SELECT %s, COALESCE(%s,'') FROM %s WHERE id = ?`, docCol, col, table)
	row := s.readDB.QueryRowContext(ctx, q, ref.ID)
	if err := row.Scan(&docID, &content); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	return content, docID, nil
}
