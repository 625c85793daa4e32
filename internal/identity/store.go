package identity

import (
	"context"
	"sync"

	"readmodel.dev/projector/internal/domain"
)

// AliasStore persists alias records. Every operation is scoped by kind, the
// identity prefix of the translator using the store.
type AliasStore interface {
	// Get returns the identity mapped to alias.
	Get(ctx context.Context, kind, alias string) (domain.Identity, bool, error)
	// InsertIfAbsent stores alias -> id unless alias already exists. It
	// returns the identity that owns alias afterwards.
	InsertIfAbsent(ctx context.Context, kind, alias string, id domain.Identity) (inserted bool, winner domain.Identity, err error)
	// GetAlias returns the alias mapped to id.
	GetAlias(ctx context.Context, kind string, id domain.Identity) (string, bool, error)
	// GetMany returns aliases for the identities that have one.
	GetMany(ctx context.Context, kind string, ids []domain.Identity) (map[domain.Identity]string, error)
}

// Generator hands out sequence numbers. Values are never reused.
type Generator interface {
	Next(ctx context.Context, kind string) (int64, error)
}

type aliasKey struct {
	kind  string
	alias string
}

// MemoryStore is an in-process AliasStore for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byAlias map[aliasKey]domain.Identity
	byID    map[domain.Identity]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAlias: make(map[aliasKey]domain.Identity),
		byID:    make(map[domain.Identity]string),
	}
}

// Get implements AliasStore.
func (s *MemoryStore) Get(_ context.Context, kind, alias string) (domain.Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlias[aliasKey{kind, alias}]
	return id, ok, nil
}

// InsertIfAbsent implements AliasStore.
func (s *MemoryStore) InsertIfAbsent(_ context.Context, kind, alias string, id domain.Identity) (bool, domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aliasKey{kind, alias}
	if existing, ok := s.byAlias[key]; ok {
		return false, existing, nil
	}
	s.byAlias[key] = id
	s.byID[id] = alias
	return true, id, nil
}

// GetAlias implements AliasStore.
func (s *MemoryStore) GetAlias(_ context.Context, _ string, id domain.Identity) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alias, ok := s.byID[id]
	return alias, ok, nil
}

// GetMany implements AliasStore.
func (s *MemoryStore) GetMany(_ context.Context, _ string, ids []domain.Identity) (map[domain.Identity]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Identity]string, len(ids))
	for _, id := range ids {
		if alias, ok := s.byID[id]; ok {
			out[id] = alias
		}
	}
	return out, nil
}

// Count returns the number of records stored for kind.
func (s *MemoryStore) Count(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.byAlias {
		if key.kind == kind {
			n++
		}
	}
	return n
}

// MemoryCounter is an in-process Generator.
type MemoryCounter struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemoryCounter creates a counter starting at 1 for every kind.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{next: make(map[string]int64)}
}

// Next implements Generator.
func (c *MemoryCounter) Next(_ context.Context, kind string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next[kind]++
	return c.next[kind], nil
}
