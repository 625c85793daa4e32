// Package checkpoint tracks per-slot consumption progress.
//
// The Tracker is the single source of truth for where each slot resumes. A
// checkpoint only moves forward: lower or equal positions are ignored, which
// makes SetCheckpoint safe to retry.
//
// Import Path: readmodel.dev/projector/internal/checkpoint
package checkpoint

import (
	"context"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
)

// Store persists checkpoints. Set must never lower a stored value; only Reset
// moves a slot back to Genesis.
type Store interface {
	Get(ctx context.Context, slot string) (domain.Position, bool, error)
	Set(ctx context.Context, slot string, pos domain.Position) error
	Reset(ctx context.Context, slot string) error
	List(ctx context.Context) (map[string]domain.Position, error)
}

// Tracker caches checkpoints in front of a Store. Each slot is written by one
// worker; reads may come from anywhere and may see a slightly stale value.
type Tracker struct {
	store Store
	known *xsync.Map[string, domain.Position]
}

// NewTracker creates a tracker over store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, known: xsync.NewMap[string, domain.Position]()}
}

// GetCheckpoint returns the stored checkpoint of slot, or Genesis.
func (t *Tracker) GetCheckpoint(ctx context.Context, slot string) (domain.Position, error) {
	pos, found, err := t.store.Get(ctx, slot)
	if err != nil {
		return domain.Genesis, fmt.Errorf("get checkpoint %s: %w", slot, err)
	}
	if !found {
		pos = domain.Genesis
	}
	t.known.Store(slot, pos)
	return pos, nil
}

// SetCheckpoint persists pos when it is strictly greater than the current
// checkpoint of slot.
func (t *Tracker) SetCheckpoint(ctx context.Context, slot string, pos domain.Position) error {
	cur, ok := t.known.Load(slot)
	if !ok {
		var err error
		if cur, err = t.GetCheckpoint(ctx, slot); err != nil {
			return err
		}
	}
	if pos <= cur {
		logger.Debug("Checkpoint not advanced",
			zap.String("slot", slot),
			zap.Int64("position", int64(pos)),
			zap.Int64("checkpoint", int64(cur)),
		)
		return nil
	}
	if err := t.store.Set(ctx, slot, pos); err != nil {
		return fmt.Errorf("set checkpoint %s=%d: %w", slot, pos, err)
	}
	t.known.Store(slot, pos)
	return nil
}

// ResetCheckpoint drops the checkpoint of slot so it resumes from Genesis.
// Rebuilds call it before clearing read models.
func (t *Tracker) ResetCheckpoint(ctx context.Context, slot string) error {
	if err := t.store.Reset(ctx, slot); err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", slot, err)
	}
	t.known.Store(slot, domain.Genesis)
	logger.Info("Checkpoint reset", zap.String("slot", slot))
	return nil
}

// Snapshot returns the checkpoints this tracker has seen.
func (t *Tracker) Snapshot() map[string]domain.Position {
	out := make(map[string]domain.Position, t.known.Size())
	t.known.Range(func(slot string, pos domain.Position) bool {
		out[slot] = pos
		return true
	})
	return out
}

// Slots lists the slots in a snapshot, sorted.
func Slots(snapshot map[string]domain.Position) []string {
	out := make([]string, 0, len(snapshot))
	for slot := range snapshot {
		out = append(out, slot)
	}
	sort.Strings(out)
	return out
}
