package audit

import (
	"context"
	"log/slog"
	"time"

	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
)

// retryDelay is the single backoff applied before the one retry on a failed
// append. Underlying-store contention in the embedded database clears fast
// or not at all.
const retryDelay = 50 * time.Millisecond

// Service captures structured audit entries. It is append-only and
// synchronous: Record returns only after the entry is durable, so "it
// happened" and "it was logged" cannot diverge. A failed append is fatal to
// the triggering operation.
type Service struct {
	store  Store
	logger *slog.Logger

	// retentionFloor is the legal minimum age before any entry may expire,
	// regardless of the configured audit TTL.
	retentionFloor time.Duration
}

func NewService(store Store, logger *slog.Logger, retentionFloor time.Duration) *Service {
	return &Service{store: store, logger: logger, retentionFloor: retentionFloor}
}

// Record appends an entry, retrying once with backoff on transient store
// failure. Returns the log ID on success and CodeAuditWriteFailure when both
// attempts fail.
func (s *Service) Record(ctx context.Context, entry Entry) (domain.LogID, error) {
	if entry.ID.IsNil() {
		entry.ID = domain.NewLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	err := s.store.Append(ctx, entry)
	if err != nil {
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return domain.LogID{}, dErrors.Wrap(ctx.Err(), dErrors.CodeAuditWriteFailure, "audit write cancelled")
		}
		err = s.store.Append(ctx, entry)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", entry.Action,
			"resource_kind", entry.ResourceKind,
			"error", err,
		)
		return domain.LogID{}, dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "audit record could not be written")
	}
	return entry.ID, nil
}

// Query returns entries matching the filter, newest first. Serves both the
// subject-facing transparency view and compliance tooling.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	entries, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "audit query failed")
	}
	return entries, nil
}

// Report aggregates entry counts by action and outcome over a time window.
func (s *Service) Report(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	rows, err := s.store.Report(ctx, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "audit report failed")
	}
	return rows, nil
}

// ExpireBefore deletes entries older than cutoff, clamped so nothing younger
// than the legal retention floor is ever removed. Returns the number deleted.
func (s *Service) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	floor := time.Now().Add(-s.retentionFloor)
	if cutoff.After(floor) {
		cutoff = floor
	}
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "audit expiry failed")
	}
	return deleted, nil
}
