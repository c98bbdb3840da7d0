package retention

import (
	"context"
	"time"

	"tacita/pkg/domain"
)

// Policy controls how long entities of one resource kind live. When
// AutoDelete is false the sweep reports but never removes.
type Policy struct {
	Kind       domain.ResourceKind
	TTL        time.Duration
	AutoDelete bool
	UpdatedAt  time.Time
}

type PolicyStore interface {
	Upsert(ctx context.Context, p Policy) error
	Get(ctx context.Context, kind domain.ResourceKind) (Policy, error)
	List(ctx context.Context) ([]Policy, error)
}

// SweepReport summarizes one enforcer pass. Kinds are visited in a
// fixed order; a failure on one kind is recorded and the sweep moves
// on to the next.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Kinds      []KindResult
}

// KindResult is the outcome for a single resource kind within a sweep.
type KindResult struct {
	Kind    domain.ResourceKind
	Deleted int64
	Skipped bool
	Err     string
}

// TotalDeleted sums deletions across all kinds in the report.
func (r SweepReport) TotalDeleted() int64 {
	var n int64
	for _, k := range r.Kinds {
		n += k.Deleted
	}
	return n
}
