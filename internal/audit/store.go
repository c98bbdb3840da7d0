package audit

import (
	"context"
	"time"
)

// Store persists audit entries. The interface is append-only: no update
// exists, and the only delete is the expiry hook reserved for the retention
// enforcer, which never removes entries younger than the legal floor
// enforced at the service layer.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	Report(ctx context.Context, from, to time.Time) ([]ReportRow, error)

	// DeleteOlderThan removes entries with a timestamp before cutoff and
	// returns how many were removed. Only the retention enforcer calls this,
	// through Service.ExpireBefore.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
