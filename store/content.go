package store

import (
	"context"
	"database/sql"
)

// InsertPart inserts a doc_part, upserting on (doc_id, content_hash).
func (s *Store) InsertPart(ctx context.Context, p DocPart) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO doc_parts(id, doc_id, position, heading, summary, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, content_hash) DO UPDATE SET position = excluded.position
			RETURNING id`,
			id, p.DocID, p.Position, p.Heading, p.Summary, p.ContentHash).Scan(&id)
	})
	return id, err
}

// InsertSeg inserts a doc_seg and its vector row together, so a
// segment never exists without a signature row. Re-upserts clear
// digest_end to force a re-digest.
func (s *Store) InsertSeg(ctx context.Context, seg DocSeg, signature []float32) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		var rowid int64
		kind := seg.Kind
		if kind == "" {
			kind = "text"
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO doc_segs(id, doc_id, part_id, position, content, kind, token_count, summary, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, content_hash) DO UPDATE SET
				position = excluded.position, digest_end = NULL
			RETURNING rowid, id`,
			id, seg.DocID, seg.PartID, seg.Position, seg.Content, kind, seg.TokenCount, seg.Summary, seg.ContentHash,
		).Scan(&rowid, &id)
		if err != nil {
			return err
		}
		if signature != nil {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO vec_doc_segs(seg_rowid, signature) VALUES (?, ?)`,
				rowid, serializeFloat32(signature))
		}
		return err
	})
	return id, err
}

// InsertFrag upserts on (seg_id, content_hash): identical fragment
// text under the same segment collapses, while the same text in two
// different segments keeps one row per segment.
func (s *Store) InsertFrag(ctx context.Context, f DocFrag, signature []float32) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO doc_frags(id, doc_id, seg_id, position, content, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(seg_id, content_hash) DO UPDATE SET
				position = excluded.position, digest_end = NULL
			RETURNING rowid, id`,
			id, f.DocID, f.SegID, f.Position, f.Content, f.ContentHash,
		).Scan(&rowid, &id)
		if err != nil {
			return err
		}
		if signature != nil {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO vec_doc_frags(frag_rowid, signature) VALUES (?, ?)`,
				rowid, serializeFloat32(signature))
		}
		return err
	})
	return id, err
}

// InsertImplicit dedupes on (doc_id, content); re-insertion keeps the
// existing row and its ID, overwriting source_kind and the signature.
func (s *Store) InsertImplicit(ctx context.Context, im DocImplicit, signature []float32) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO doc_implicits(id, doc_id, source_kind, source_id, content)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, content) DO UPDATE SET source_kind = excluded.source_kind
			RETURNING rowid, id`,
			id, im.DocID, im.SourceKind, im.SourceID, im.Content,
		).Scan(&rowid, &id)
		if err != nil {
			return err
		}
		if signature != nil {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO vec_doc_implicits(implicit_rowid, signature) VALUES (?, ?)`,
				rowid, serializeFloat32(signature))
		}
		return err
	})
	return id, err
}

// InsertKnl upserts on (doc_id, question): the same trigger question
// under one doc collapses to a single row whose doc_ref is rewritten
// to the latest source.
func (s *Store) InsertKnl(ctx context.Context, k DocKnl, signature []float32) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO doc_knls(id, doc_id, doc_ref_kind, doc_ref_id, question)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, question) DO UPDATE SET
				doc_ref_kind = excluded.doc_ref_kind, doc_ref_id = excluded.doc_ref_id
			RETURNING rowid, id`,
			id, k.DocID, k.DocRef.Kind, k.DocRef.ID, k.Question,
		).Scan(&rowid, &id)
		if err != nil {
			return err
		}
		if signature != nil {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO vec_doc_knls(knl_rowid, signature) VALUES (?, ?)`,
				rowid, serializeFloat32(signature))
		}
		return err
	})
	return id, err
}

// GetSegsByPart returns every seg belonging to a part, in position order.
func (s *Store) GetSegsByPart(ctx context.Context, partID string) ([]DocSeg, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, doc_id, part_id, position, content, kind, token_count, COALESCE(summary,''), content_hash
		FROM doc_segs WHERE part_id = ? ORDER BY position`, partID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DocSeg
	for rows.Next() {
		var d DocSeg
		if err := rows.Scan(&d.ID, &d.DocID, &d.PartID, &d.Position, &d.Content, &d.Kind, &d.TokenCount, &d.Summary, &d.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetPartsByDoc returns every part of a doc in position order.
func (s *Store) GetPartsByDoc(ctx context.Context, docID string) ([]DocPart, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, doc_id, position, COALESCE(heading,''), COALESCE(summary,''), content_hash
		FROM doc_parts WHERE doc_id = ? ORDER BY position`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DocPart
	for rows.Next() {
		var p DocPart
		if err := rows.Scan(&p.ID, &p.DocID, &p.Position, &p.Heading, &p.Summary, &p.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateSegSummary and UpdatePartSummary persist roll-up stage output.
func (s *Store) UpdateSegSummary(ctx context.Context, id, summary string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE doc_segs SET summary = ? WHERE id = ?`, summary, id)
		return err
	})
}

func (s *Store) UpdatePartSummary(ctx context.Context, id, summary string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE doc_parts SET summary = ? WHERE id = ?`, summary, id)
		return err
	})
}

// UpdateDocSummary persists the doc-level roll-up stage's output.
func (s *Store) UpdateDocSummary(ctx context.Context, id, summary string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE docs SET summary = ? WHERE id = ?`, summary, id)
		return err
	})
}

// NotDigested returns up to limit row IDs from table that still need
// digesting: digest_end IS NULL and digest_retry below retryLimit.
func (s *Store) NotDigested(ctx context.Context, table string, retryLimit, limit int) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT id FROM `+table+`
		WHERE digest_end IS NULL AND digest_retry < ? ORDER BY rowid LIMIT ?`, retryLimit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NotDigestedByDoc is NotDigested scoped to a single doc, used by the
// digestor's per-doc stage loops so one worker's scan never
// picks up rows belonging to a doc owned by another concurrent worker.
func (s *Store) NotDigestedByDoc(ctx context.Context, table, docID string, retryLimit, limit int) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT id FROM `+table+`
		WHERE doc_id = ? AND digest_end IS NULL AND digest_retry < ? ORDER BY position LIMIT ?`,
		docID, retryLimit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSeg, GetFrag and GetPart are single-row getters used by the
// digestor's per-stage workers once NotDigestedByDoc hands back an ID.
func (s *Store) GetSeg(ctx context.Context, id string) (*DocSeg, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, doc_id, part_id, position, content, kind, token_count, COALESCE(summary,''), content_hash
		FROM doc_segs WHERE id = ?`, id)
	var d DocSeg
	if err := row.Scan(&d.ID, &d.DocID, &d.PartID, &d.Position, &d.Content, &d.Kind, &d.TokenCount, &d.Summary, &d.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetFrag(ctx context.Context, id string) (*DocFrag, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, doc_id, seg_id, position, content, content_hash
		FROM doc_frags WHERE id = ?`, id)
	var f DocFrag
	if err := row.Scan(&f.ID, &f.DocID, &f.SegID, &f.Position, &f.Content, &f.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetPart(ctx context.Context, id string) (*DocPart, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, doc_id, position, COALESCE(heading,''), COALESCE(summary,''), content_hash
		FROM doc_parts WHERE id = ?`, id)
	var p DocPart
	if err := row.Scan(&p.ID, &p.DocID, &p.Position, &p.Heading, &p.Summary, &p.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetFragsBySeg returns every frag belonging to a seg, in position
// order, for deep-mode fragment-question digestion.
func (s *Store) GetFragsBySeg(ctx context.Context, segID string) ([]DocFrag, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, doc_id, seg_id, position, content, content_hash
		FROM doc_frags WHERE seg_id = ? ORDER BY position`, segID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DocFrag
	for rows.Next() {
		var f DocFrag
		if err := rows.Scan(&f.ID, &f.DocID, &f.SegID, &f.Position, &f.Content, &f.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
