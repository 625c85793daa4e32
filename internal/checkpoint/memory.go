package checkpoint

import (
	"context"
	"sync"

	"readmodel.dev/projector/internal/domain"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]domain.Position
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]domain.Position)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, slot string) (domain.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.slots[slot]
	return pos, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, slot string, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.slots[slot]; !ok || pos > cur {
		s.slots[slot] = pos
	}
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slot)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(context.Context) (map[string]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Position, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out, nil
}
