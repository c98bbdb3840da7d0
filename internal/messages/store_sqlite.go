package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
	txcontext "tacita/pkg/platform/tx"
)

// SQLiteStore persists chat messages in the embedded database.
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

func (s *SQLiteStore) Insert(ctx context.Context, msg Message) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO chat_messages (id, subject_id, content, created_at, retention_expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID.String(), msg.SubjectID.String(), msg.Content, msg.CreatedAt, msg.RetentionExpiresAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id domain.MessageID) (Message, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, subject_id, content, created_at, retention_expires_at
		FROM chat_messages WHERE id = ?
	`, id.String())
	msg, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id domain.MessageID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Message, error) {
	return s.list(ctx, `
		SELECT id, subject_id, content, created_at, retention_expires_at
		FROM chat_messages WHERE subject_id = ? ORDER BY created_at
	`, subject.String())
}

func (s *SQLiteStore) ListExpired(ctx context.Context, asOf time.Time) ([]Message, error) {
	return s.list(ctx, `
		SELECT id, subject_id, content, created_at, retention_expires_at
		FROM chat_messages WHERE retention_expires_at < ? ORDER BY created_at
	`, asOf)
}

func (s *SQLiteStore) RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, fmt.Sprintf(`
		UPDATE chat_messages
		SET retention_expires_at = datetime(created_at, '+%d seconds')
	`, int64(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("restamp messages: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(scan func(dest ...any) error) (Message, error) {
	var msg Message
	var id, subject string
	if err := scan(&id, &subject, &msg.Content, &msg.CreatedAt, &msg.RetentionExpiresAt); err != nil {
		return Message{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Message{}, fmt.Errorf("parse message id: %w", err)
	}
	msg.ID = domain.MessageID(parsed)
	msg.SubjectID = domain.SubjectID(subject)
	return msg, nil
}
