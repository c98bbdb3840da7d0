package detect

import (
	"context"
	"sync"

	"tacita/pkg/domain"
)

// InMemoryRecordStore keeps detection records in memory for tests and the
// zero-setup path. It intentionally favors clarity over performance.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{}
}

func (s *InMemoryRecordStore) SaveAll(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *InMemoryRecordStore) ListBySource(_ context.Context, sourceKind domain.ResourceKind, sourceID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.SourceKind == sourceKind && r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryRecordStore) DeleteBySource(_ context.Context, sourceKind domain.ResourceKind, sourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Record
	var deleted int64
	for _, r := range s.records {
		if r.SourceKind == sourceKind && r.SourceID == sourceID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return deleted, nil
}
