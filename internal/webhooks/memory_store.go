package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory subscription store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[int64]*Subscription)}
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub.ID = s.nextID
	sub.CreatedAt = time.Now().UTC()
	s.subs[sub.ID] = copySub(sub)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(sub), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *MemoryStore) ListByCompany(ctx context.Context, companyID int64) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Subscription
	for _, sub := range s.subs {
		if sub.CompanyID == companyID {
			result = append(result, copySub(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) ListActiveForCompanies(ctx context.Context, companyIDs []int64) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(companyIDs))
	for _, id := range companyIDs {
		wanted[id] = true
	}

	var result []*Subscription
	for _, sub := range s.subs {
		if sub.Active && wanted[sub.CompanyID] {
			result = append(result, copySub(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func copySub(sub *Subscription) *Subscription {
	clone := *sub
	clone.Events = append([]string(nil), sub.Events...)
	return &clone
}
