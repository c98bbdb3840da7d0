package docstore

import (
	"context"
	"time"

	"tacita/pkg/domain"
)

// Store persists documents and chunks. Insert and Delete join an ambient
// transaction so the service can commit a document, its chunks, and its
// detections as one atomic unit.
type Store interface {
	Insert(ctx context.Context, doc Document, chunks []Chunk) error
	Get(ctx context.Context, id domain.DocumentID) (Document, error)
	Delete(ctx context.Context, id domain.DocumentID) error
	Chunks(ctx context.Context, id domain.DocumentID) ([]Chunk, error)
	Chunk(ctx context.Context, ref ChunkRef) (Chunk, error)

	Count(ctx context.Context) (int64, error)
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Document, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Document, error)

	// AllChunks streams every stored chunk (text omitted) for index rebuild.
	AllChunks(ctx context.Context) ([]Chunk, error)

	// RestampExpiry recomputes retention_expires_at as created_at + ttl for
	// every document. Only the explicit re-stamping pass calls this; policy
	// changes are otherwise not retroactive.
	RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error)
}
