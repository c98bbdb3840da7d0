package messages

import (
	"context"
	"sort"
	"sync"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	msgs map[domain.MessageID]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{msgs: make(map[domain.MessageID]Message)}
}

func (s *InMemoryStore) Insert(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[msg.ID]; ok {
		return sentinel.ErrConflict
	}
	s.msgs[msg.ID] = msg
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.MessageID) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.msgs[id]
	if !ok {
		return Message{}, sentinel.ErrNotFound
	}
	return msg, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.msgs, id)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject domain.SubjectID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.msgs {
		if m.SubjectID == subject {
			out = append(out, m)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, asOf time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.msgs {
		if m.RetentionExpiresAt.Before(asOf) {
			out = append(out, m)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemoryStore) RestampExpiry(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.msgs {
		m.RetentionExpiresAt = m.CreatedAt.Add(ttl)
		s.msgs[id] = m
		n++
	}
	return n, nil
}

func sortByCreated(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
