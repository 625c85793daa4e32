package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readmodel.dev/projector/internal/domain"
)

type countingStore struct {
	*MemoryStore
	sets int
	fail error
}

func (s *countingStore) Set(ctx context.Context, slot string, pos domain.Position) error {
	if s.fail != nil {
		return s.fail
	}
	s.sets++
	return s.MemoryStore.Set(ctx, slot, pos)
}

func TestTracker_DefaultsToGenesis(t *testing.T) {
	tr := NewTracker(NewMemoryStore())
	pos, err := tr.GetCheckpoint(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, domain.Genesis, pos)
}

func TestTracker_Monotonic(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	tr := NewTracker(store)

	require.NoError(t, tr.SetCheckpoint(ctx, "main", 50))
	require.NoError(t, tr.SetCheckpoint(ctx, "main", 49))
	require.NoError(t, tr.SetCheckpoint(ctx, "main", 50))

	pos, err := tr.GetCheckpoint(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, domain.Position(50), pos)
	assert.Equal(t, 1, store.sets, "lower and equal positions never reach the store")

	require.NoError(t, tr.SetCheckpoint(ctx, "main", 51))
	assert.Equal(t, 2, store.sets)
}

func TestTracker_ResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, NewTracker(store).SetCheckpoint(ctx, "main", 50))

	restarted := NewTracker(store)
	pos, err := restarted.GetCheckpoint(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, domain.Position(50), pos)

	require.NoError(t, restarted.SetCheckpoint(ctx, "main", 10))
	stored, _, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, domain.Position(50), stored)
}

func TestTracker_StoreFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	tr := NewTracker(store)
	require.NoError(t, tr.SetCheckpoint(ctx, "main", 5))

	store.fail = errors.New("disk full")
	require.Error(t, tr.SetCheckpoint(ctx, "main", 6))
	assert.Equal(t, domain.Position(5), tr.Snapshot()["main"])

	store.fail = nil
	require.NoError(t, tr.SetCheckpoint(ctx, "main", 6))
	assert.Equal(t, domain.Position(6), tr.Snapshot()["main"])
}

func TestTracker_ResetCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := NewTracker(store)
	require.NoError(t, tr.SetCheckpoint(ctx, "main", 50))

	require.NoError(t, tr.ResetCheckpoint(ctx, "main"))
	_, found, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, domain.Genesis, tr.Snapshot()["main"])

	require.NoError(t, tr.SetCheckpoint(ctx, "main", 3))
	pos, err := NewTracker(store).GetCheckpoint(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, domain.Position(3), pos, "a reset slot advances from Genesis again")
}

func TestTracker_Snapshot(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())
	require.NoError(t, tr.SetCheckpoint(ctx, "b", 2))
	require.NoError(t, tr.SetCheckpoint(ctx, "a", 1))
	_, err := tr.GetCheckpoint(ctx, "c")
	require.NoError(t, err)

	snap := tr.Snapshot()
	assert.Equal(t, map[string]domain.Position{"a": 1, "b": 2, "c": 0}, snap)
	assert.Equal(t, []string{"a", "b", "c"}, Slots(snap))
}

func TestMemoryStore_NeverLowers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "main", 9))
	require.NoError(t, s.Set(ctx, "main", 3))
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.Position{"main": 9}, all)
}
