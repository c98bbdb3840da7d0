// Package docstore owns documents and their chunks: chunking, embedding,
// similarity search, the capacity ceiling, and the cascading delete path
// that also removes a document's detections.
package docstore

import (
	"time"

	"tacita/pkg/domain"
)

// Document is the stored metadata for one ingested document. The raw text
// itself survives only as chunks (possibly redacted before persistence).
//
// Invariant: ChunkCount equals the number of live chunks; chunks are never
// orphaned.
type Document struct {
	ID                 domain.DocumentID
	SubjectID          domain.SubjectID
	Filename           string
	MIMEType           string
	UploadedAt         time.Time
	RawByteSize        int64
	ChunkCount         int
	CreatedAt          time.Time
	RetentionExpiresAt time.Time
}

// Chunk is one bounded span of document text with its embedding, the unit of
// retrieval.
type Chunk struct {
	DocumentID domain.DocumentID
	Index      int
	Text       string
	Embedding  []float32
}

// ChunkRef points at a chunk without carrying its content.
type ChunkRef struct {
	DocumentID domain.DocumentID
	Index      int
}

// SearchHit is one ranked retrieval result.
type SearchHit struct {
	Ref   ChunkRef
	Text  string
	Score float64
}
