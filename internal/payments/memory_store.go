package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[int64]*Payment
	byTrip   map[int64]int64  // trip id -> payment id
	byIntent map[string]int64 // intent id -> payment id
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[int64]*Payment),
		byTrip:   make(map[int64]int64),
		byIntent: make(map[string]int64),
	}
}

func (s *MemoryStore) Create(ctx context.Context, payment *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	payment.ID = s.nextID
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	s.payments[payment.ID] = copyPayment(payment)
	s.byTrip[payment.TripID] = payment.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(payment), nil
}

func (s *MemoryStore) GetByTrip(ctx context.Context, tripID int64) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTrip[tripID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(s.payments[id]), nil
}

func (s *MemoryStore) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(s.payments[id]), nil
}

func (s *MemoryStore) Update(ctx context.Context, payment *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.payments[payment.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.ExternalIntentID != "" && existing.ExternalIntentID != payment.ExternalIntentID {
		delete(s.byIntent, existing.ExternalIntentID)
	}

	payment.UpdatedAt = time.Now().UTC()
	s.payments[payment.ID] = copyPayment(payment)
	if payment.ExternalIntentID != "" {
		s.byIntent[payment.ExternalIntentID] = payment.ID
	}
	return nil
}

func (s *MemoryStore) ListDueForRelease(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Payment
	for _, payment := range s.payments {
		if payment.Status == StatusEscrowFunded && payment.AutoReleaseAt != nil && payment.AutoReleaseAt.Before(before) {
			due = append(due, copyPayment(payment))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoReleaseAt.Before(*due[j].AutoReleaseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func copyPayment(p *Payment) *Payment {
	clone := *p
	if p.AutoReleaseAt != nil {
		at := *p.AutoReleaseAt
		clone.AutoReleaseAt = &at
	}
	if p.AmountToHauler != nil {
		v := *p.AmountToHauler
		clone.AmountToHauler = &v
	}
	if p.AmountToShipper != nil {
		v := *p.AmountToShipper
		clone.AmountToShipper = &v
	}
	return &clone
}
