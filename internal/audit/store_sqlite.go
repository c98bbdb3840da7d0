package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tacita/pkg/domain"
	txcontext "tacita/pkg/platform/tx"
)

// SQLiteStore persists audit entries in the embedded database. Detail maps
// are stored as JSON text. Append joins an ambient transaction when one is
// running, so fail-closed operations commit their state change and its audit
// entry as one atomic unit.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type appendExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) execer(ctx context.Context) appendExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, subject_id, action, resource_kind, resource_id, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID.String(), entry.Timestamp, entry.SubjectID.String(),
		string(entry.Action), entry.ResourceKind.String(), nullable(entry.ResourceID),
		string(entry.Outcome), string(detail))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var conds []string
	var args []any
	if !filter.SubjectID.IsNil() {
		conds = append(conds, "subject_id = ?")
		args = append(args, filter.SubjectID.String())
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.ResourceKind != "" {
		conds = append(conds, "resource_kind = ?")
		args = append(args, filter.ResourceKind.String())
	}
	if !filter.From.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, filter.To)
	}

	query := "SELECT id, ts, subject_id, action, resource_kind, resource_id, outcome, detail FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var id, subject, action, kind, outcome, detail string
		var resourceID sql.NullString
		if err := rows.Scan(&id, &e.Timestamp, &subject, &action, &kind, &resourceID, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse audit id: %w", err)
		}
		e.ID = domain.LogID(parsed)
		e.SubjectID = domain.SubjectID(subject)
		e.Action = Action(action)
		e.ResourceKind = domain.ResourceKind(kind)
		e.ResourceID = resourceID.String
		e.Outcome = Outcome(outcome)
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Report(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, outcome, COUNT(*)
		FROM audit_log
		WHERE ts >= ? AND ts < ?
		GROUP BY action, outcome
		ORDER BY action, outcome
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit report: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		var action, outcome string
		if err := rows.Scan(&action, &outcome, &r.Count); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.Action = Action(action)
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire audit entries: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
