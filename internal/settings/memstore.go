package settings

import (
	"context"
	"maps"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. The zero value is ready to
// use. It is suitable for tests and for running without persistence.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore returns a MemStore pre-populated with a copy of initial.
func NewMemStore(initial map[string]string) *MemStore {
	return &MemStore{values: maps.Clone(initial)}
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements [Store.Set].
func (s *MemStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

// Close implements [Store.Close].
func (s *MemStore) Close() error { return nil }
