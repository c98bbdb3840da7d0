package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
)

// InMemoryStore keeps documents and chunks in memory for tests. It
// intentionally favors clarity over performance.
type InMemoryStore struct {
	mu     sync.RWMutex
	docs   map[domain.DocumentID]Document
	chunks map[domain.DocumentID][]Chunk
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		docs:   make(map[domain.DocumentID]Document),
		chunks: make(map[domain.DocumentID][]Chunk),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, doc Document, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return sentinel.ErrConflict
	}
	s.docs[doc.ID] = doc
	s.chunks[doc.ID] = append([]Chunk(nil), chunks...)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.DocumentID) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, sentinel.ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *InMemoryStore) Chunks(_ context.Context, id domain.DocumentID) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Chunk(nil), s.chunks[id]...), nil
}

func (s *InMemoryStore) Chunk(_ context.Context, ref ChunkRef) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks[ref.DocumentID] {
		if c.Index == ref.Index {
			return c, nil
		}
	}
	return Chunk{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject domain.SubjectID) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.docs {
		if d.SubjectID == subject {
			out = append(out, d)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, asOf time.Time) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.docs {
		if d.RetentionExpiresAt.Before(asOf) {
			out = append(out, d)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemoryStore) AllChunks(_ context.Context) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chunk
	for _, cs := range s.chunks {
		for _, c := range cs {
			c.Text = ""
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RestampExpiry(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.docs {
		d.RetentionExpiresAt = d.CreatedAt.Add(ttl)
		s.docs[id] = d
		n++
	}
	return n, nil
}

func sortByCreated(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}
