// Package reservedvalue tracks values handed out from the reservation pool
// of generated attributes. A reserved value is accepted by the importers
// even when it does not match the attribute's current text pattern.
package reservedvalue

import (
	"context"
	"sync"
)

// Store holds reserved values per text pattern.
type Store interface {
	Reserve(ctx context.Context, pattern string, values ...string) error
	IsReserved(ctx context.Context, pattern, value string) (bool, error)
	Release(ctx context.Context, pattern string, values ...string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patterns: map[string]map[string]struct{}{}}
}

func (s *MemoryStore) Reserve(_ context.Context, pattern string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.patterns[pattern]
	if !ok {
		set = map[string]struct{}{}
		s.patterns[pattern] = set
	}
	for _, v := range values {
		set[v] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) IsReserved(_ context.Context, pattern, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patterns[pattern][value]
	return ok, nil
}

func (s *MemoryStore) Release(_ context.Context, pattern string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		delete(s.patterns[pattern], v)
	}
	return nil
}
