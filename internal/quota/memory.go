package quota

import (
	"context"
	"sync"

	"chat-worker/internal/domain"
)

// MemoryStore is an in-process Store. Counters are never evicted, so it is
// only suitable for tests and single-instance local runs.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

// IncrementBelow implements Store.
func (m *MemoryStore) IncrementBelow(_ context.Context, rec domain.QuotaRecord, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts[rec.Key]
	if c >= limit {
		return c, false, nil
	}
	c++
	m.counts[rec.Key] = c
	return c, true, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}
