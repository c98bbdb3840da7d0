package retention

import (
	"context"
	"sort"
	"sync"
	"time"

	"tacita/pkg/domain"
	"tacita/pkg/platform/sentinel"
)

type InMemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[domain.ResourceKind]Policy
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{policies: make(map[domain.ResourceKind]Policy)}
}

func (s *InMemoryPolicyStore) Upsert(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.policies[p.Kind] = p
	return nil
}

func (s *InMemoryPolicyStore) Get(_ context.Context, kind domain.ResourceKind) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[kind]
	if !ok {
		return Policy{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryPolicyStore) List(_ context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}
