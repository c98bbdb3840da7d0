// Package sqlite owns the embedded database lifecycle: opening, schema
// migration, and storage reclamation. All durable state for the pipeline
// lives in this one file-backed database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// secure_delete zeroes freed pages so reaped content is not trivially
	// recoverable from residual allocated space. WAL keeps background sweeps
	// from blocking foreground reads.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA secure_delete = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenInMemory opens a private in-memory database for tests. A single
// connection keeps every statement on the same in-memory instance.
func OpenInMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the pipeline schema.
//
// The partial unique index on consent_records enforces the "exactly one
// active record per (subject, purpose)" invariant in the store itself, not
// just in service code.
const Schema = `
CREATE TABLE IF NOT EXISTS consent_records (
    id              TEXT PRIMARY KEY,
    subject_id      TEXT NOT NULL,
    purpose         TEXT NOT NULL,
    granted         INTEGER NOT NULL,
    policy_version  TEXT NOT NULL,
    granted_at      TIMESTAMP NOT NULL,
    revoked_at      TIMESTAMP,
    revoke_reason   TEXT,
    origin_address  TEXT,
    agent_string    TEXT,
    agent_summary   TEXT
);
CREATE INDEX IF NOT EXISTS idx_consent_subject_purpose
    ON consent_records(subject_id, purpose);
CREATE UNIQUE INDEX IF NOT EXISTS idx_consent_one_active
    ON consent_records(subject_id, purpose) WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS pii_detections (
    id               TEXT PRIMARY KEY,
    source_kind      TEXT NOT NULL,
    source_id        TEXT NOT NULL,
    entity_kind      TEXT NOT NULL,
    confidence       REAL NOT NULL,
    span_start       INTEGER NOT NULL,
    span_end         INTEGER NOT NULL,
    detecting_engine TEXT NOT NULL,
    created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_source
    ON pii_detections(source_kind, source_id);

CREATE TABLE IF NOT EXISTS documents (
    id                   TEXT PRIMARY KEY,
    subject_id           TEXT NOT NULL,
    filename             TEXT,
    mime_type            TEXT,
    uploaded_at          TIMESTAMP,
    raw_byte_size        INTEGER NOT NULL,
    chunk_count          INTEGER NOT NULL,
    created_at           TIMESTAMP NOT NULL,
    retention_expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_expiry
    ON documents(retention_expires_at);

CREATE TABLE IF NOT EXISTS document_chunks (
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    text        TEXT NOT NULL,
    embedding   BLOB NOT NULL,
    dimensions  INTEGER NOT NULL,
    PRIMARY KEY (document_id, idx)
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id                   TEXT PRIMARY KEY,
    subject_id           TEXT NOT NULL,
    content              TEXT NOT NULL,
    created_at           TIMESTAMP NOT NULL,
    retention_expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_expiry
    ON chat_messages(retention_expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id            TEXT PRIMARY KEY,
    ts            TIMESTAMP NOT NULL,
    subject_id    TEXT NOT NULL,
    action        TEXT NOT NULL,
    resource_kind TEXT NOT NULL,
    resource_id   TEXT,
    outcome       TEXT NOT NULL,
    detail        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_id);

CREATE TABLE IF NOT EXISTS retention_policies (
    resource_kind TEXT PRIMARY KEY,
    ttl_seconds   INTEGER NOT NULL,
    auto_delete   INTEGER NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);
`

// Migrate applies the schema. Statements are idempotent so re-running on an
// existing database is safe.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Reclaim rebuilds the database file so pages freed by deletes are returned
// to the filesystem. Runs after retention sweeps; combined with
// secure_delete this keeps reaped content unrecoverable.
func Reclaim(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
