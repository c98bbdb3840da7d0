package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
	txcontext "tacita/pkg/platform/tx"
)

// SQLiteStore persists the consent timeline in the embedded database. The
// one-active-record invariant is also enforced by a partial unique index, so
// a racing duplicate grant fails at the store rather than corrupting the
// timeline.
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

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO consent_records
			(id, subject_id, purpose, granted, policy_version, granted_at, revoked_at, revoke_reason, origin_address, agent_string, agent_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID.String(), record.SubjectID.String(), record.Purpose.String(),
		record.Granted, record.PolicyVersion, record.GrantedAt, record.RevokedAt,
		record.RevokeReason, record.Evidence.OriginAddress, record.Evidence.AgentString,
		record.Evidence.AgentSummary)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save consent record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Active(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, subject_id, purpose, granted, policy_version, granted_at, revoked_at, revoke_reason, origin_address, agent_string, agent_summary
		FROM consent_records
		WHERE subject_id = ? AND purpose = ? AND revoked_at IS NULL
	`, subject.String(), purpose.String())
	return scanRecord(row.Scan)
}

func (s *SQLiteStore) CloseActive(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, at time.Time, reason string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE consent_records
		SET revoked_at = ?, revoke_reason = ?
		WHERE subject_id = ? AND purpose = ? AND revoked_at IS NULL
	`, at, reason, subject.String(), purpose.String())
	if err != nil {
		return fmt.Errorf("close active consent: %w", err)
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

func (s *SQLiteStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Record, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, subject_id, purpose, granted, policy_version, granted_at, revoked_at, revoke_reason, origin_address, agent_string, agent_summary
		FROM consent_records
		WHERE subject_id = ?
		ORDER BY granted_at DESC
	`, subject.String())
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var r Record
	var id, subject, purpose string
	var revokedAt sql.NullTime
	var revokeReason sql.NullString
	err := scan(&id, &subject, &purpose, &r.Granted, &r.PolicyVersion, &r.GrantedAt,
		&revokedAt, &revokeReason, &r.Evidence.OriginAddress, &r.Evidence.AgentString,
		&r.Evidence.AgentSummary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, sentinel.ErrNotFound
		}
		return Record{}, fmt.Errorf("scan consent record: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("parse consent id: %w", err)
	}
	r.ID = parsed
	r.SubjectID = domain.SubjectID(subject)
	r.Purpose = domain.ConsentPurpose(purpose)
	if revokedAt.Valid {
		t := revokedAt.Time
		r.RevokedAt = &t
	}
	r.RevokeReason = revokeReason.String
	return r, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text; the
	// driver does not export a typed constraint error.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
