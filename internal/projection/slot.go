package projection

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/domain"
)

// State is the lifecycle state of a slot.
type State string

const (
	StateIdle              State = "idle"
	StatePolling           State = "polling"
	StateDispatching       State = "dispatching"
	StateCheckpointAdvance State = "checkpoint_advance"
	StateStopped           State = "stopped"
	StateFaulted           State = "faulted"
)

// SlotStatus is an operator view of one slot.
type SlotStatus struct {
	Name        string          `json:"name"`
	State       State           `json:"state"`
	Cursor      domain.Position `json:"cursor"`
	Checkpoint  domain.Position `json:"checkpoint"`
	Projections []string        `json:"projections"`
	// Skipped lists malformed positions passed over with skip enabled.
	Skipped []domain.Position `json:"skipped,omitempty"`
	// HeldAt is the first failed position; the checkpoint stays below it
	// until restart.
	HeldAt     domain.Position `json:"held_at,omitempty"`
	Rebuilding bool            `json:"rebuilding"`
	Error      string          `json:"error,omitempty"`
}

// slot is owned by one worker at a time. mu only guards against status
// readers.
type slot struct {
	name        string
	projections []Projection
	log         *zap.Logger

	mu         sync.RWMutex
	state      State
	cursor     domain.Position
	checkpoint domain.Position
	skipped    []domain.Position
	heldAt     domain.Position
	rebuilding bool
	lastErr    error
}

func (s *slot) setState(st State) {
	s.mu.Lock()
	if s.state != StateFaulted || st == StateIdle {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *slot) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *slot) getCursor() domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

func (s *slot) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *slot) fault(err error) {
	s.mu.Lock()
	s.state = StateFaulted
	s.lastErr = err
	s.mu.Unlock()
}

// persistTarget returns the position the checkpoint may move to: the cursor,
// or just below the first failed position while one is held.
func (s *slot) persistTarget() domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.heldAt != domain.Genesis && s.cursor >= s.heldAt {
		return s.heldAt - 1
	}
	return s.cursor
}

func (s *slot) status() SlotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SlotStatus{
		Name:       s.name,
		State:      s.state,
		Cursor:     s.cursor,
		Checkpoint: s.checkpoint,
		Skipped:    slices.Clone(s.skipped),
		HeldAt:     s.heldAt,
		Rebuilding: s.rebuilding,
	}
	for _, p := range s.projections {
		st.Projections = append(st.Projections, p.Name())
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}
