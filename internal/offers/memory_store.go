package offers

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory offer store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	offers map[int64]*Offer
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[int64]*Offer)}
}

func (s *MemoryStore) Create(ctx context.Context, offer *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	offer.ID = s.nextID
	now := time.Now().UTC()
	offer.CreatedAt = now
	offer.UpdatedAt = now

	s.offers[offer.ID] = copyOffer(offer)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOffer(offer), nil
}

func (s *MemoryStore) Update(ctx context.Context, offer *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[offer.ID]; !ok {
		return ErrNotFound
	}
	offer.UpdatedAt = time.Now().UTC()
	s.offers[offer.ID] = copyOffer(offer)
	return nil
}

func (s *MemoryStore) ListByLoad(ctx context.Context, loadID int64, haulerCompanyID *int64, afterID int64, limit int) ([]*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Offer
	for _, offer := range s.offers {
		if offer.LoadID != loadID || offer.ID <= afterID {
			continue
		}
		if haulerCompanyID != nil && offer.HaulerCompanyID != *haulerCompanyID {
			continue
		}
		result = append(result, copyOffer(offer))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ExpirePendingSiblings(ctx context.Context, loadID, exceptID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	now := time.Now().UTC()
	for _, offer := range s.offers {
		if offer.LoadID == loadID && offer.ID != exceptID && offer.Status == StatusPending {
			offer.Status = StatusExpired
			offer.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

func copyOffer(o *Offer) *Offer {
	clone := *o
	if o.ExpiresAt != nil {
		v := *o.ExpiresAt
		clone.ExpiresAt = &v
	}
	if o.AcceptedAt != nil {
		v := *o.AcceptedAt
		clone.AcceptedAt = &v
	}
	if o.RejectedAt != nil {
		v := *o.RejectedAt
		clone.RejectedAt = &v
	}
	return &clone
}
