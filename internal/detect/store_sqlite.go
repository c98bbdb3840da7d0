package detect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"tacita/pkg/domain"
	txcontext "tacita/pkg/platform/tx"
)

// SQLiteRecordStore persists detection records in the embedded database.
// It joins an ambient transaction from context when the owning entity's
// cascade is running.
type SQLiteRecordStore struct {
	db *sql.DB
}

func NewSQLiteRecordStore(db *sql.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteRecordStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteRecordStore) SaveAll(ctx context.Context, records []Record) error {
	exec := s.execer(ctx)
	for _, r := range records {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO pii_detections
				(id, source_kind, source_id, entity_kind, confidence, span_start, span_end, detecting_engine, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID.String(), r.SourceKind.String(), r.SourceID, string(r.Kind),
			r.Confidence, r.SpanStart, r.SpanEnd, r.Engine, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("save detection: %w", err)
		}
	}
	return nil
}

func (s *SQLiteRecordStore) ListBySource(ctx context.Context, sourceKind domain.ResourceKind, sourceID string) ([]Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, source_kind, source_id, entity_kind, confidence, span_start, span_end, detecting_engine, created_at
		FROM pii_detections
		WHERE source_kind = ? AND source_id = ?
		ORDER BY span_start, span_end
	`, sourceKind.String(), sourceID)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var id, srcKind, kind string
		if err := rows.Scan(&id, &srcKind, &r.SourceID, &kind, &r.Confidence,
			&r.SpanStart, &r.SpanEnd, &r.Engine, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse detection id: %w", err)
		}
		r.ID = parsed
		r.SourceKind = domain.ResourceKind(srcKind)
		r.Kind = EntityKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteRecordStore) DeleteBySource(ctx context.Context, sourceKind domain.ResourceKind, sourceID string) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM pii_detections WHERE source_kind = ? AND source_id = ?
	`, sourceKind.String(), sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete detections: %w", err)
	}
	return res.RowsAffected()
}
