package disputes

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory dispute store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[int64]*Dispute
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[int64]*Dispute)}
}

func (s *MemoryStore) Create(ctx context.Context, dispute *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	dispute.ID = s.nextID
	now := time.Now().UTC()
	dispute.CreatedAt = now
	dispute.UpdatedAt = now

	s.disputes[dispute.ID] = copyDispute(dispute)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dispute, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDispute(dispute), nil
}

func (s *MemoryStore) Update(ctx context.Context, dispute *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.disputes[dispute.ID]; !ok {
		return ErrNotFound
	}
	dispute.UpdatedAt = time.Now().UTC()
	s.disputes[dispute.ID] = copyDispute(dispute)
	return nil
}

func (s *MemoryStore) GetActiveByPayment(ctx context.Context, paymentID int64) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, dispute := range s.disputes {
		if dispute.PaymentID == paymentID && dispute.Active() {
			return copyDispute(dispute), nil
		}
	}
	return nil, ErrNotFound
}

func copyDispute(d *Dispute) *Dispute {
	clone := *d
	if d.Outcome != nil {
		v := *d.Outcome
		clone.Outcome = &v
	}
	if d.AmountToHauler != nil {
		v := *d.AmountToHauler
		clone.AmountToHauler = &v
	}
	if d.AmountToShipper != nil {
		v := *d.AmountToShipper
		clone.AmountToShipper = &v
	}
	if d.ResolvedByUserID != nil {
		v := *d.ResolvedByUserID
		clone.ResolvedByUserID = &v
	}
	if d.ResolvedAt != nil {
		v := *d.ResolvedAt
		clone.ResolvedAt = &v
	}
	return &clone
}
