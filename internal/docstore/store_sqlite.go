package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
	txcontext "tacita/pkg/platform/tx"
)

// SQLiteStore persists documents and chunks in the embedded database.
// Embeddings are stored as little-endian float32 blobs next to the chunk
// text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) Insert(ctx context.Context, doc Document, chunks []Chunk) error {
	conn := s.conn(ctx)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO documents
			(id, subject_id, filename, mime_type, uploaded_at, raw_byte_size, chunk_count, created_at, retention_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID.String(), doc.SubjectID.String(), doc.Filename, doc.MIMEType,
		doc.UploadedAt, doc.RawByteSize, doc.ChunkCount, doc.CreatedAt, doc.RetentionExpiresAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, c := range chunks {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO document_chunks (document_id, idx, text, embedding, dimensions)
			VALUES (?, ?, ?, ?, ?)
		`, c.DocumentID.String(), c.Index, c.Text, float32ToBlob(c.Embedding), len(c.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id domain.DocumentID) (Document, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, subject_id, filename, mime_type, uploaded_at, raw_byte_size, chunk_count, created_at, retention_expires_at
		FROM documents WHERE id = ?
	`, id.String())
	return scanDocument(row.Scan)
}

func (s *SQLiteStore) Delete(ctx context.Context, id domain.DocumentID) error {
	// Chunks go with the document via ON DELETE CASCADE; detections are the
	// service's responsibility inside the same transaction.
	res, err := s.conn(ctx).ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Chunks(ctx context.Context, id domain.DocumentID) ([]Chunk, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT document_id, idx, text, embedding, dimensions
		FROM document_chunks WHERE document_id = ? ORDER BY idx
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (s *SQLiteStore) Chunk(ctx context.Context, ref ChunkRef) (Chunk, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT document_id, idx, text, embedding, dimensions
		FROM document_chunks WHERE document_id = ? AND idx = ?
	`, ref.DocumentID.String(), ref.Index)
	c, err := scanChunk(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chunk{}, sentinel.ErrNotFound
		}
		return Chunk{}, err
	}
	return c, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Document, error) {
	return s.list(ctx, "subject_id = ?", subject.String())
}

func (s *SQLiteStore) ListExpired(ctx context.Context, asOf time.Time) ([]Document, error) {
	return s.list(ctx, "retention_expires_at < ?", asOf)
}

func (s *SQLiteStore) list(ctx context.Context, cond string, arg any) ([]Document, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, subject_id, filename, mime_type, uploaded_at, raw_byte_size, chunk_count, created_at, retention_expires_at
		FROM documents WHERE `+cond+` ORDER BY created_at
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT document_id, idx, '', embedding, dimensions FROM document_chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("load chunk embeddings: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (s *SQLiteStore) RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE documents
		SET retention_expires_at = datetime(created_at, ?)
	`, fmt.Sprintf("+%d seconds", int64(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("restamp documents: %w", err)
	}
	return res.RowsAffected()
}

func collectChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanDocument(scan func(dest ...any) error) (Document, error) {
	var d Document
	var id, subject string
	err := scan(&id, &subject, &d.Filename, &d.MIMEType, &d.UploadedAt,
		&d.RawByteSize, &d.ChunkCount, &d.CreatedAt, &d.RetentionExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, sentinel.ErrNotFound
		}
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	parsed, err := domain.ParseDocumentID(id)
	if err != nil {
		return Document{}, fmt.Errorf("parse document id: %w", err)
	}
	d.ID = parsed
	d.SubjectID = domain.SubjectID(subject)
	return d, nil
}

func scanChunk(scan func(dest ...any) error) (Chunk, error) {
	var c Chunk
	var id string
	var blob []byte
	var dims int
	if err := scan(&id, &c.Index, &c.Text, &blob, &dims); err != nil {
		return Chunk{}, err
	}
	parsed, err := domain.ParseDocumentID(id)
	if err != nil {
		return Chunk{}, fmt.Errorf("parse chunk document id: %w", err)
	}
	c.DocumentID = parsed
	c.Embedding = blobToFloat32(blob, dims)
	return c, nil
}

// --- embedding serialization ---

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32(b []byte, dims int) []float32 {
	v := make([]float32, dims)
	for i := 0; i < dims && i*4+4 <= len(b); i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
