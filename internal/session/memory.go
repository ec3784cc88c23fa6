package session

import (
	"context"
	"sync"
)

// MemoryStore keeps items in process memory. Sub-agent conversations use it
// so their intermediate traffic never reaches the parent session file.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Item
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// GetItems returns the items in append order, the last limit items when
// limit is positive.
func (m *MemoryStore) GetItems(_ context.Context, limit int) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// AddItems appends items.
func (m *MemoryStore) AddItems(_ context.Context, items ...Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
	return nil
}

// PopItem removes and returns the last item, or nil when empty.
func (m *MemoryStore) PopItem(_ context.Context) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil, nil
	}
	last := m.items[len(m.items)-1]
	m.items = m.items[:len(m.items)-1]
	return &last, nil
}

// Clear removes all items.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}
