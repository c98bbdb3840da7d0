package detect

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tacita/pkg/domain"
)

// Record is the persisted form of a detection. It deliberately has no field
// for the matched substring: only kind, position, and confidence survive.
// Re-applying the span to the original text recovers the region; nothing in
// the row equals or contains it.
type Record struct {
	ID         uuid.UUID
	SourceKind domain.ResourceKind
	SourceID   string
	Kind       EntityKind
	Confidence float64
	SpanStart  int
	SpanEnd    int
	Engine     string
	CreatedAt  time.Time
}

// NewRecord strips a Detection down to its persistable form for the given
// owning entity.
func NewRecord(d Detection, sourceKind domain.ResourceKind, sourceID string, now time.Time) Record {
	return Record{
		ID:         uuid.New(),
		SourceKind: sourceKind,
		SourceID:   sourceID,
		Kind:       d.Kind,
		Confidence: d.Confidence,
		SpanStart:  d.Start,
		SpanEnd:    d.End,
		Engine:     d.Engine,
		CreatedAt:  now,
	}
}

// RecordStore persists detection records. Detections die only by cascade:
// DeleteBySource is called from the owning entity's delete path, never
// directly by callers.
type RecordStore interface {
	SaveAll(ctx context.Context, records []Record) error
	ListBySource(ctx context.Context, sourceKind domain.ResourceKind, sourceID string) ([]Record, error)
	DeleteBySource(ctx context.Context, sourceKind domain.ResourceKind, sourceID string) (int64, error)
}
