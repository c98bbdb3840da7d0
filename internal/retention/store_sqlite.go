package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
)

// SQLitePolicyStore persists retention policies keyed by resource kind.
// Policies change rarely and never inside another component's
// transaction, so it talks to the database directly.
type SQLitePolicyStore struct {
	db *sql.DB
}

func NewSQLitePolicyStore(db *sql.DB) *SQLitePolicyStore {
	return &SQLitePolicyStore{db: db}
}

func (s *SQLitePolicyStore) Upsert(ctx context.Context, p Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (resource_kind, ttl_seconds, auto_delete, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_kind) DO UPDATE SET
			ttl_seconds = excluded.ttl_seconds,
			auto_delete = excluded.auto_delete,
			updated_at  = excluded.updated_at
	`, p.Kind.String(), int64(p.TTL.Seconds()), boolToInt(p.AutoDelete), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

func (s *SQLitePolicyStore) Get(ctx context.Context, kind domain.ResourceKind) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_kind, ttl_seconds, auto_delete, updated_at
		FROM retention_policies WHERE resource_kind = ?
	`, kind.String())
	p, err := scanPolicy(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Policy{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *SQLitePolicyStore) List(ctx context.Context) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_kind, ttl_seconds, auto_delete, updated_at
		FROM retention_policies ORDER BY resource_kind
	`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPolicy(scan func(dest ...any) error) (Policy, error) {
	var p Policy
	var kind string
	var ttlSeconds int64
	var autoDelete int
	if err := scan(&kind, &ttlSeconds, &autoDelete, &p.UpdatedAt); err != nil {
		return Policy{}, err
	}
	p.Kind = domain.ResourceKind(kind)
	p.TTL = time.Duration(ttlSeconds) * time.Second
	p.AutoDelete = autoDelete != 0
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
