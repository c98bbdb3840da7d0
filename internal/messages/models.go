package messages

import (
	"context"
	"time"

	"tacita/pkg/domain"
)

// Message is one stored chat turn. Content may already be redacted
// when the caller asked for it at ingest time.
type Message struct {
	ID                 domain.MessageID
	SubjectID          domain.SubjectID
	Content            string
	CreatedAt          time.Time
	RetentionExpiresAt time.Time
}

type Store interface {
	Insert(ctx context.Context, msg Message) error
	Get(ctx context.Context, id domain.MessageID) (Message, error)
	Delete(ctx context.Context, id domain.MessageID) error
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Message, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Message, error)
	RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error)
}
