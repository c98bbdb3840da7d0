package consent

import (
	"context"
	"time"

	"tacita/pkg/domain"
)

// Store persists the consent timeline. Implementations never mutate a row's
// decision in place; CloseActive only stamps RevokedAt/RevokeReason on the
// currently open record.
type Store interface {
	// Save inserts a new timeline row.
	Save(ctx context.Context, record Record) error

	// Active returns the open record for (subject, purpose).
	// Returns sentinel.ErrNotFound when no record is open; absence means no
	// consent, never a default grant.
	Active(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (Record, error)

	// CloseActive stamps the open record for (subject, purpose) as revoked.
	// Returns sentinel.ErrNotFound when nothing is open.
	CloseActive(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, at time.Time, reason string) error

	// ListBySubject returns the subject's full timeline, newest first.
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Record, error)
}
