// Package projection runs projections against the commit stream.
//
// Projections are grouped into slots. Each slot is an independent lane with
// its own checkpoint: a worker fetches changesets after the slot's position,
// dispatches them in order to every projection of the slot and advances the
// checkpoint once all of them are done. Slots never share read-model state,
// so they run in parallel without coordination.
//
// Import Path: readmodel.dev/projector/internal/projection
package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
)

const (
	// DefaultSlot is used by projections that do not name a slot.
	DefaultSlot = "default"
	// Wildcard in the slot configuration stands for every declared slot
	// that is not listed explicitly.
	Wildcard = "*"
)

var (
	// ErrDuplicateProjection indicates two projections with the same name.
	ErrDuplicateProjection = errors.New("duplicate projection name")
	// ErrNoSlots indicates a configuration that runs no projection at all.
	ErrNoSlots = errors.New("no slot has projections assigned")
)

// Projection consumes changesets. Handle reports whether the changeset was
// relevant to the projection. An error wrapping domain.ErrInvalidChangeset
// rejects the changeset for good; any other error is transient and the same
// changeset is delivered again, so Handle must tolerate redelivery.
type Projection interface {
	Name() string
	Slot() string
	Handle(ctx context.Context, cs *domain.Changeset) (bool, error)
}

// Resetter is implemented by projections that can drop their state before a
// rebuild.
type Resetter interface {
	Reset(ctx context.Context) error
}

// CommitHandledNotifier is told about every changeset a slot finished.
type CommitHandledNotifier interface {
	CommitHandled(ctx context.Context, slot string, cs *domain.Changeset, handled int)
}

// NopNotifier ignores notifications.
type NopNotifier struct{}

// CommitHandled implements CommitHandledNotifier.
func (NopNotifier) CommitHandled(context.Context, string, *domain.Changeset, int) {}

// RebuildContext is the process-wide rebuild flag.
type RebuildContext struct {
	enabled atomic.Bool
}

// NewRebuildContext creates a context with the flag set to enabled.
func NewRebuildContext(enabled bool) *RebuildContext {
	rc := &RebuildContext{}
	rc.enabled.Store(enabled)
	return rc
}

// Enabled reports whether a full rebuild is requested.
func (rc *RebuildContext) Enabled() bool {
	return rc != nil && rc.enabled.Load()
}

// Set changes the flag. It takes effect on the next Start.
func (rc *RebuildContext) Set(enabled bool) { rc.enabled.Store(enabled) }

func slotOf(p Projection) string {
	if s := p.Slot(); s != "" {
		return s
	}
	return DefaultSlot
}

// Assign groups projections into the slots this process runs. Explicitly
// configured slots take their own projections; a Wildcard adds every other
// declared slot. An empty configuration behaves like a lone Wildcard.
// Projections of slots that end up unassigned are not run.
func Assign(configured []string, projections []Projection) (map[string][]Projection, error) {
	if len(configured) == 0 {
		configured = []string{Wildcard}
	}
	explicit := make(map[string]bool, len(configured))
	wildcard := false
	for _, s := range configured {
		if s == Wildcard {
			wildcard = true
			continue
		}
		explicit[s] = true
	}

	names := make(map[string]bool, len(projections))
	out := make(map[string][]Projection)
	for _, p := range projections {
		if names[p.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProjection, p.Name())
		}
		names[p.Name()] = true

		s := slotOf(p)
		if explicit[s] || wildcard {
			out[s] = append(out[s], p)
			continue
		}
		logger.Info("Projection not assigned to this process",
			zap.String("projection", p.Name()),
			zap.String("slot", s),
		)
	}
	for s := range explicit {
		if len(out[s]) == 0 {
			logger.Warn("Configured slot has no projections", zap.String("slot", s))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoSlots
	}
	return out, nil
}

func sortedSlots(assigned map[string][]Projection) []string {
	out := make([]string, 0, len(assigned))
	for s := range assigned {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
