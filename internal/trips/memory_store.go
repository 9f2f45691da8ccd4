package trips

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory trip store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	trips  map[int64]*Trip
	byLoad map[int64]int64
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:  make(map[int64]*Trip),
		byLoad: make(map[int64]int64),
	}
}

func (s *MemoryStore) Create(ctx context.Context, trip *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	trip.ID = s.nextID
	now := time.Now().UTC()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	s.trips[trip.ID] = copyTrip(trip)
	s.byLoad[trip.LoadID] = trip.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trip, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTrip(trip), nil
}

func (s *MemoryStore) GetByLoad(ctx context.Context, loadID int64) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLoad[loadID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTrip(s.trips[id]), nil
}

func (s *MemoryStore) Update(ctx context.Context, trip *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[trip.ID]; !ok {
		return ErrNotFound
	}
	trip.UpdatedAt = time.Now().UTC()
	s.trips[trip.ID] = copyTrip(trip)
	return nil
}

func copyTrip(t *Trip) *Trip {
	clone := *t
	if t.DriverID != nil {
		v := *t.DriverID
		clone.DriverID = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.DeliveredAt != nil {
		v := *t.DeliveredAt
		clone.DeliveredAt = &v
	}
	if t.ConfirmedAt != nil {
		v := *t.ConfirmedAt
		clone.ConfirmedAt = &v
	}
	return &clone
}
