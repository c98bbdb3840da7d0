package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
)

// InMemoryStore keeps the consent timeline in memory for tests. It
// intentionally favors clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.SubjectID == record.SubjectID && r.Purpose == record.Purpose && r.RevokedAt == nil && record.RevokedAt == nil {
			return sentinel.ErrConflict
		}
	}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) Active(_ context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.SubjectID == subject && r.Purpose == purpose && r.RevokedAt == nil {
			return r, nil
		}
	}
	return Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) CloseActive(_ context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.SubjectID == subject && r.Purpose == purpose && r.RevokedAt == nil {
			revoked := at
			s.records[i].RevokedAt = &revoked
			s.records[i].RevokeReason = reason
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject domain.SubjectID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.SubjectID == subject {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GrantedAt.After(out[j].GrantedAt)
	})
	return out, nil
}
