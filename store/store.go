package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the SQLite file backing one assistant. Every mutation
// goes through a single writer goroutine (writer.go); reads use a
// separate read-only connection pool against the same WAL file.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	w       *writer
	dims    int
}

// New opens (or creates) the SQLite store at dbPath, applies the schema
// and any pending migrations, and starts the writer goroutine.
func New(ctx context.Context, dbPath string, dims int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000"

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dsn+"&mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read connection: %w", err)
	}
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(30 * time.Minute)

	if err := writeDB.PingContext(ctx); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	if _, err := writeDB.ExecContext(ctx, schemaSQL(dims)); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{writeDB: writeDB, readDB: readDB, w: newWriter(writeDB), dims: dims}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.freezeMeta(ctx, dims); err != nil {
		s.Close()
		return nil, fmt.Errorf("freezing store metadata: %w", err)
	}

	return s, nil
}

// freezeMeta records the fields that must not change for the lifetime
// of the store: db_version, signature_dims, tokenizer.
func (s *Store) freezeMeta(ctx context.Context, dims int) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		rows := map[string]string{
			"db_version":     fmt.Sprintf("%d", CurrentDBVersion),
			"signature_dims": fmt.Sprintf("%d", dims),
			"tokenizer":      "o200k_base",
		}
		for k, v := range rows {
			if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES (?, ?)
				ON CONFLICT(key) DO NOTHING`, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.w.close()
	err1 := s.writeDB.Close()
	err2 := s.readDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) Dims() int { return s.dims }

// --- Assistants ---

func (s *Store) CreateAssistant(ctx context.Context, name string) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO assistants(id, name) VALUES (?, ?)`, id, name)
		return err
	})
	return id, err
}

// EnsureAssistant returns the assistant row named name, creating it if
// absent. Lookup and insert share one writer transaction so concurrent
// callers never mint two rows for the same name.
func (s *Store) EnsureAssistant(ctx context.Context, name string) (string, error) {
	var id string
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id FROM assistants WHERE name = ?`, name)
		switch err := row.Scan(&id); err {
		case nil:
			return nil
		case sql.ErrNoRows:
			id = NewID()
			_, ierr := tx.ExecContext(ctx, `INSERT INTO assistants(id, name) VALUES (?, ?)`, id, name)
			return ierr
		default:
			return err
		}
	})
	return id, err
}

// --- Docs ---

// UpsertDoc inserts a new doc or, if content_hash already exists,
// returns the existing row with exists=true.
func (s *Store) UpsertDoc(ctx context.Context, d Doc) (id string, exists bool, err error) {
	existing, err := s.GetDocByHash(ctx, d.ContentHash)
	if err != nil && err != ErrNotFound {
		return "", false, err
	}
	if existing != nil {
		return existing.ID, true, nil
	}

	id = NewID()
	err = s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO docs(id, assistant_id, path, format, content_hash, content, content_sig, title, preview, blob_path, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, d.AssistantID, d.Path, d.Format, d.ContentHash, d.Content, d.ContentSig, d.Title, d.Preview, d.BlobPath, d.Metadata)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

const docColumns = `id, assistant_id, path, format, content_hash, content, content_sig,
			COALESCE(title,''), COALESCE(preview,''), COALESCE(summary,''),
			COALESCE(blob_path,''), COALESCE(metadata,''), digest_start, digest_end,
			digest_retry, COALESCE(digest_error,''), created_at, updated_at`

func (s *Store) GetDocByHash(ctx context.Context, hash string) (*Doc, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+docColumns+` FROM docs WHERE content_hash = ?`, hash)
	return scanDoc(row)
}

func (s *Store) GetDoc(ctx context.Context, id string) (*Doc, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+docColumns+` FROM docs WHERE id = ?`, id)
	return scanDoc(row)
}

func scanDoc(row *sql.Row) (*Doc, error) {
	var d Doc
	if err := row.Scan(&d.ID, &d.AssistantID, &d.Path, &d.Format, &d.ContentHash, &d.Content, &d.ContentSig,
		&d.Title, &d.Preview, &d.Summary, &d.BlobPath, &d.Metadata, &d.DigestStart, &d.DigestEnd,
		&d.DigestRetry, &d.DigestError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDocs(ctx context.Context, assistantID string) ([]Doc, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT `+docColumns+` FROM docs WHERE assistant_id = ? ORDER BY created_at`, assistantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.ID, &d.AssistantID, &d.Path, &d.Format, &d.ContentHash, &d.Content, &d.ContentSig,
			&d.Title, &d.Preview, &d.Summary, &d.BlobPath, &d.Metadata, &d.DigestStart, &d.DigestEnd,
			&d.DigestRetry, &d.DigestError, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDoc removes a doc and every descendant row in one writer
// transaction. The cascade is explicit rather than FK-driven: vec0
// virtual tables support neither foreign keys nor triggers, so their
// rows must be deleted by hand, and the child tables are deleted
// directly (not via FK cascade) so their AFTER DELETE triggers fire
// and keep the external-content FTS indexes in sync.
func (s *Store) DeleteDoc(ctx context.Context, id string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM docs WHERE id = ?`, id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		// Vector rows first, while the child rows still exist to
		// resolve the rowid subqueries.
		vecDeletes := []struct{ vec, rowidCol, table string }{
			{"vec_doc_frags", "frag_rowid", "doc_frags"},
			{"vec_doc_segs", "seg_rowid", "doc_segs"},
			{"vec_doc_implicits", "implicit_rowid", "doc_implicits"},
			{"vec_doc_knls", "knl_rowid", "doc_knls"},
		}
		for _, d := range vecDeletes {
			q := fmt.Sprintf(`DELETE FROM %s WHERE %s IN (
				SELECT rowid FROM %s WHERE doc_id = ?
			)`, d.vec, d.rowidCol, d.table)
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}

		// Child rows, leaves first; direct deletes fire the FTS
		// sync triggers.
		for _, table := range []string{"doc_frags", "doc_segs", "doc_parts", "doc_knls", "doc_implicits"} {
			q := fmt.Sprintf(`DELETE FROM %s WHERE doc_id = ?`, table)
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE id = ?`, id)
		return err
	})
}

// ClaimDoc atomically selects the oldest not-yet-digested doc for
// assistantID and marks it digest_start, so the batch scheduler's
// parallel doc workers never race on the same doc: the
// select-and-mark happens inside one writer transaction. Returns
// ErrNotFound once no claimable doc remains.
func (s *Store) ClaimDoc(ctx context.Context, assistantID string, retryLimit int) (*Doc, error) {
	var id string
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM docs
			WHERE assistant_id = ? AND digest_end IS NULL AND digest_retry < ? AND digest_start IS NULL
			ORDER BY created_at LIMIT 1`, assistantID, retryLimit)
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE docs SET digest_start = CURRENT_TIMESTAMP WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetDoc(ctx, id)
}

// CountNotDigestedDocs reports how many of assistantID's docs still need
// digesting, for the scheduler's progress-percentage reporting.
func (s *Store) CountNotDigestedDocs(ctx context.Context, assistantID string, retryLimit int) (int64, error) {
	var n int64
	err := s.readDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM docs WHERE assistant_id = ? AND digest_end IS NULL AND digest_retry < ?`,
		assistantID, retryLimit).Scan(&n)
	return n, err
}

// --- Digest lifecycle ---

func (s *Store) MarkDigestStart(ctx context.Context, table, id string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET digest_start = CURRENT_TIMESTAMP WHERE id = ?`, table), id)
		return err
	})
}

func (s *Store) MarkDigestEnd(ctx context.Context, table, id string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET digest_end = CURRENT_TIMESTAMP, digest_error = NULL WHERE id = ?`, table), id)
		return err
	})
}

func (s *Store) MarkDigestError(ctx context.Context, table, id, errMsg string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET digest_retry = digest_retry + 1, digest_error = ? WHERE id = ?`, table), errMsg, id)
		return err
	})
}

// MarkDigestFailed implements the in-progress -> not-started
// transition of the digest state machine: digest_start is
// cleared so the row is picked up by NotDigested again, digest_retry is
// incremented, and digest_error records the cause. A row crosses into
// terminal-skipped once digest_retry reaches DIGEST_RETRY, enforced by
// NotDigested's retryLimit filter rather than by a stored flag.
func (s *Store) MarkDigestFailed(ctx context.Context, table, id, errMsg string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET digest_start = NULL, digest_retry = digest_retry + 1, digest_error = ? WHERE id = ?`, table),
			errMsg, id)
		return err
	})
}

// ResetNotDigested clears digest_start for rows never finished, so a
// subsequent Digest run retries them. Callers must ensure no digest
// worker is concurrently running against this table.
func (s *Store) ResetNotDigested(ctx context.Context, table string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET digest_start = NULL WHERE digest_end IS NULL`, table))
		return err
	})
}

// ResetNotDigestedButStarted clears only rows that started but never
// finished (crash recovery), safe to call at scheduler startup even if
// a previous process crashed mid-digest.
func (s *Store) ResetNotDigestedButStarted(ctx context.Context, table string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET digest_start = NULL WHERE digest_start IS NOT NULL AND digest_end IS NULL`, table))
		return err
	})
}

// ResetDigestRetry zeroes digest_retry for every not-finished row of
// table, lifting terminal-skipped rows (retry >= DIGEST_RETRY) back
// into NotDigested's selection, for the scheduler's options.Retry flag.
func (s *Store) ResetDigestRetry(ctx context.Context, table string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET digest_retry = 0, digest_start = NULL WHERE digest_end IS NULL`, table))
		return err
	})
}

// --- Vector / FTS helpers shared across the four knowledge tables ---

// serializeFloat32 converts a float32 slice to little-endian bytes, the
// wire form sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is serializeFloat32's inverse, reading a stored
// signature column back into a float32 slice. nil in, nil out.
func deserializeFloat32(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func repeatPlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Stats returns row counts across all knowledge tables. Skills are
// installation-wide, so their count is not assistant-scoped.
func (s *Store) Stats(ctx context.Context, assistantID string) (*Stats, error) {
	var st Stats
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM docs WHERE assistant_id = ?`, assistantID).Scan(&st.Docs); err != nil {
		return nil, err
	}
	for dst, table := range map[*int64]string{
		&st.Parts: "doc_parts", &st.Segs: "doc_segs", &st.Frags: "doc_frags",
		&st.Implicits: "doc_implicits", &st.Knls: "doc_knls",
	} {
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s t JOIN docs d ON d.id = t.doc_id WHERE d.assistant_id = ?`, table)
		if err := s.readDB.QueryRowContext(ctx, q, assistantID).Scan(dst); err != nil {
			return nil, err
		}
	}
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM skills`).Scan(&st.Skills); err != nil {
		return nil, err
	}
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_chat WHERE assistant_id = ?`, assistantID).Scan(&st.HistoryChats); err != nil {
		return nil, err
	}
	return &st, nil
}

var ErrNotFound = fmt.Errorf("store: row not found")
