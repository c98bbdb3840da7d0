package tx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
)

const (
	defaultTxTimeout = 5 * time.Second

	// retryDelay is the single backoff before the one retry on a failed
	// attempt. SQLite returns busy errors under writer contention and a
	// short pause usually clears them.
	retryDelay = 50 * time.Millisecond
)

// Runner executes a function atomically. SQL-backed deployments get a real
// transaction; in-memory stores get a passthrough so services stay agnostic.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs fn inside a database transaction injected into the context.
// Transaction-aware stores pick it up via From and join the same atomic unit.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := r.attempt(ctx, fn)
	if err == nil || !retryable(ctx, err) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryDelay):
	}
	return r.attempt(ctx, fn)
}

// retryable reports whether a failed attempt is worth one more try. Coded
// domain errors and sentinel facts (missing row, conflict) are deterministic
// rejections, not contention; only ErrUnavailable among the sentinels marks
// a transient state. Cancellation never retries.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return false
	}
	for _, deterministic := range []error{
		sentinel.ErrNotFound,
		sentinel.ErrConflict,
		sentinel.ErrExpired,
		sentinel.ErrInvalidState,
	} {
		if errors.Is(err, deterministic) {
			return false
		}
	}
	return true
}

func (r *SQLRunner) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// NoopRunner calls fn directly. In-memory stores have no transaction to join.
type NoopRunner struct{}

func (NoopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
