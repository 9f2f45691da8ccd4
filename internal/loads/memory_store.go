package loads

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory load store for demo/development mode.
// IDs are assigned from a monotonically increasing sequence.
type MemoryStore struct {
	mu     sync.RWMutex
	loads  map[int64]*Load
	nextID int64
}

// NewMemoryStore creates a new in-memory load store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loads: make(map[int64]*Load)}
}

func (m *MemoryStore) Create(ctx context.Context, load *Load) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	load.ID = m.nextID
	now := time.Now()
	load.CreatedAt = now
	load.UpdatedAt = now

	cp := *load
	m.loads[load.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	load, ok := m.loads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *load
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, load *Load) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loads[load.ID]; !ok {
		return ErrNotFound
	}
	load.UpdatedAt = time.Now()
	cp := *load
	m.loads[load.ID] = &cp
	return nil
}
