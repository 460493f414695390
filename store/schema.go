package store

import "fmt"

// schemaSQL returns the DDL for the whole store. dims controls the
// vec0 virtual table dimensionality, frozen at store creation and
// recorded in meta.signature_dims.
func schemaSQL(dims int) string {
	return fmt.Sprintf(`
-- Frozen-at-creation store metadata (db_version, signature_dims, tokenizer).
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assistants (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Top-level ingested documents. Deleting a doc cascades through every
-- child table explicitly in the writer (see DeleteDoc): vec0 tables
-- support neither FKs nor triggers, and the FTS sync triggers only
-- fire on direct child deletes, so no FK-level cascade is declared.
CREATE TABLE IF NOT EXISTS docs (
    rowid         INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    assistant_id  TEXT NOT NULL REFERENCES assistants(id),
    path          TEXT NOT NULL,
    format        TEXT NOT NULL,
    content_hash  TEXT NOT NULL UNIQUE,
    content       BLOB NOT NULL,
    content_sig   BLOB,
    title         TEXT,
    preview       TEXT,
    summary       TEXT,
    blob_path     TEXT,
    metadata      JSON,
    digest_start  DATETIME,
    digest_end    DATETIME,
    digest_retry  INTEGER DEFAULT 0,
    digest_error  TEXT,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_docs_assistant ON docs(assistant_id);
CREATE INDEX IF NOT EXISTS idx_docs_digest_pending ON docs(digest_end, digest_retry);

-- Sections of a document (heading-level grouping of segments).
CREATE TABLE IF NOT EXISTS doc_parts (
    rowid         INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    doc_id        TEXT NOT NULL REFERENCES docs(id),
    position      INTEGER NOT NULL,
    heading       TEXT,
    summary       TEXT,
    content_hash  TEXT NOT NULL,
    digest_start  DATETIME,
    digest_end    DATETIME,
    digest_retry  INTEGER DEFAULT 0,
    digest_error  TEXT,
    UNIQUE(doc_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_doc_parts_doc ON doc_parts(doc_id);

-- Token-budgeted segments (SPLIT_TOKENS_OF_SEG), the main retrievable unit.
CREATE TABLE IF NOT EXISTS doc_segs (
    rowid         INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    doc_id        TEXT NOT NULL REFERENCES docs(id),
    part_id       TEXT NOT NULL REFERENCES doc_parts(id),
    position      INTEGER NOT NULL,
    content       TEXT NOT NULL,
    kind          TEXT NOT NULL DEFAULT 'text',
    token_count   INTEGER NOT NULL,
    summary       TEXT,
    content_hash  TEXT NOT NULL,
    digest_start  DATETIME,
    digest_end    DATETIME,
    digest_retry  INTEGER DEFAULT 0,
    digest_error  TEXT,
    UNIQUE(doc_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_doc_segs_doc ON doc_segs(doc_id);
CREATE INDEX IF NOT EXISTS idx_doc_segs_part ON doc_segs(part_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_doc_segs USING vec0(
    seg_rowid INTEGER PRIMARY KEY,
    signature float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_doc_segs USING fts5(
    content, summary,
    content='doc_segs', content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS doc_segs_ai AFTER INSERT ON doc_segs BEGIN
    INSERT INTO fts_doc_segs(rowid, content, summary) VALUES (new.rowid, new.content, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS doc_segs_ad AFTER DELETE ON doc_segs BEGIN
    INSERT INTO fts_doc_segs(fts_doc_segs, rowid, content, summary) VALUES ('delete', old.rowid, old.content, old.summary);
END;
CREATE TRIGGER IF NOT EXISTS doc_segs_au AFTER UPDATE ON doc_segs BEGIN
    INSERT INTO fts_doc_segs(fts_doc_segs, rowid, content, summary) VALUES ('delete', old.rowid, old.content, old.summary);
    INSERT INTO fts_doc_segs(rowid, content, summary) VALUES (new.rowid, new.content, new.summary);
END;

-- Fine-grained fragments within a segment, used for question digestion (deep mode).
CREATE TABLE IF NOT EXISTS doc_frags (
    rowid         INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    doc_id        TEXT NOT NULL REFERENCES docs(id),
    seg_id        TEXT NOT NULL REFERENCES doc_segs(id),
    position      INTEGER NOT NULL,
    content       TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    digest_start  DATETIME,
    digest_end    DATETIME,
    digest_retry  INTEGER DEFAULT 0,
    digest_error  TEXT,
    UNIQUE(seg_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_doc_frags_seg ON doc_frags(seg_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_doc_frags USING vec0(
    frag_rowid INTEGER PRIMARY KEY,
    signature float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_doc_frags USING fts5(
    content,
    content='doc_frags', content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS doc_frags_ai AFTER INSERT ON doc_frags BEGIN
    INSERT INTO fts_doc_frags(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS doc_frags_ad AFTER DELETE ON doc_frags BEGIN
    INSERT INTO fts_doc_frags(fts_doc_frags, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS doc_frags_au AFTER UPDATE ON doc_frags BEGIN
    INSERT INTO fts_doc_frags(fts_doc_frags, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO fts_doc_frags(rowid, content) VALUES (new.rowid, new.content);
END;

-- Implicit knowledge statements distilled during digestion, deduped per doc+content.
CREATE TABLE IF NOT EXISTS doc_implicits (
    rowid         INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    doc_id        TEXT NOT NULL REFERENCES docs(id),
    source_kind   TEXT NOT NULL, -- 'seg' | 'part' | 'doc'
    source_id     TEXT NOT NULL,
    content       TEXT NOT NULL,
    UNIQUE(doc_id, content)
);
CREATE INDEX IF NOT EXISTS idx_doc_implicits_doc ON doc_implicits(doc_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_doc_implicits USING vec0(
    implicit_rowid INTEGER PRIMARY KEY,
    signature float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_doc_implicits USING fts5(
    content,
    content='doc_implicits', content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS doc_implicits_ai AFTER INSERT ON doc_implicits BEGIN
    INSERT INTO fts_doc_implicits(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS doc_implicits_ad AFTER DELETE ON doc_implicits BEGIN
    INSERT INTO fts_doc_implicits(fts_doc_implicits, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS doc_implicits_au AFTER UPDATE ON doc_implicits BEGIN
    INSERT INTO fts_doc_implicits(fts_doc_implicits, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO fts_doc_implicits(rowid, content) VALUES (new.rowid, new.content);
END;

-- Questions a fragment could answer (deep-mode digestion), doc_ref is a
-- tagged pointer: doc_ref_kind in ('implicit','frag','seg','part','doc').
CREATE TABLE IF NOT EXISTS doc_knls (
    rowid          INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT NOT NULL UNIQUE,
    doc_id         TEXT NOT NULL REFERENCES docs(id),
    doc_ref_kind   TEXT NOT NULL,
    doc_ref_id     TEXT NOT NULL,
    question       TEXT NOT NULL,
    UNIQUE(doc_id, question)
);
CREATE INDEX IF NOT EXISTS idx_doc_knls_doc ON doc_knls(doc_id);
CREATE INDEX IF NOT EXISTS idx_doc_knls_ref ON doc_knls(doc_ref_kind, doc_ref_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_doc_knls USING vec0(
    knl_rowid INTEGER PRIMARY KEY,
    signature float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_doc_knls USING fts5(
    question,
    content='doc_knls', content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS doc_knls_ai AFTER INSERT ON doc_knls BEGIN
    INSERT INTO fts_doc_knls(rowid, question) VALUES (new.rowid, new.question);
END;
CREATE TRIGGER IF NOT EXISTS doc_knls_ad AFTER DELETE ON doc_knls BEGIN
    INSERT INTO fts_doc_knls(fts_doc_knls, rowid, question) VALUES ('delete', old.rowid, old.question);
END;
CREATE TRIGGER IF NOT EXISTS doc_knls_au AFTER UPDATE ON doc_knls BEGIN
    INSERT INTO fts_doc_knls(fts_doc_knls, rowid, question) VALUES ('delete', old.rowid, old.question);
    INSERT INTO fts_doc_knls(rowid, question) VALUES (new.rowid, new.question);
END;

-- Callable tools grouped into toolsets, with trigger phrases for dispatch.
CREATE TABLE IF NOT EXISTS toolsets (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS skills (
    rowid            INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    toolset_id       TEXT NOT NULL REFERENCES toolsets(id),
    tool_id          TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    description      TEXT NOT NULL,
    trigger_phrases  JSON
);
CREATE INDEX IF NOT EXISTS idx_skills_toolset ON skills(toolset_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_skills USING vec0(
    skill_rowid INTEGER PRIMARY KEY,
    signature float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_skills USING fts5(
    name, description,
    content='skills', content_rowid='rowid',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS skills_ai AFTER INSERT ON skills BEGIN
    INSERT INTO fts_skills(rowid, name, description) VALUES (new.rowid, new.name, new.description);
END;
CREATE TRIGGER IF NOT EXISTS skills_ad AFTER DELETE ON skills BEGIN
    INSERT INTO fts_skills(fts_skills, rowid, name, description) VALUES ('delete', old.rowid, old.name, old.description);
END;
CREATE TRIGGER IF NOT EXISTS skills_au AFTER UPDATE ON skills BEGIN
    INSERT INTO fts_skills(fts_skills, rowid, name, description) VALUES ('delete', old.rowid, old.name, old.description);
    INSERT INTO fts_skills(rowid, name, description) VALUES (new.rowid, new.name, new.description);
END;

-- Chat history, one row per turn, mutated in place while a bot turn streams.
CREATE TABLE IF NOT EXISTS history_chat (
    rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT NOT NULL UNIQUE,
    assistant_id TEXT NOT NULL REFERENCES assistants(id),
    exchange_id  TEXT NOT NULL,
    session      TEXT,
    role         TEXT NOT NULL, -- 'user' | 'bot' | 'system' | 'func' | 'tool'
    content      TEXT NOT NULL,
    sources      JSON,
    created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_history_chat_assistant ON history_chat(assistant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_history_chat_exchange ON history_chat(exchange_id);
CREATE INDEX IF NOT EXISTS idx_history_chat_session ON history_chat(session, created_at);

-- Audit log of completed chat exchanges.
CREATE TABLE IF NOT EXISTS chat_log (
    id                INTEGER PRIMARY KEY,
    assistant_id      TEXT NOT NULL,
    query             TEXT NOT NULL,
    answer            TEXT,
    retrieval_method  TEXT,
    model_used        TEXT,
    prompt_tokens     INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens      INTEGER DEFAULT 0,
    created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);
`, dims)
}
