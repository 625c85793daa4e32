package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidChangeset marks a structurally invalid changeset.
var ErrInvalidChangeset = errors.New("invalid changeset")

// Changeset is the enriched form of one aggregate commit: an ordered,
// positioned batch of events. Changesets are treated as immutable once
// produced by the commit source.
type Changeset struct {
	CommitID         string
	AggregateID      Identity
	Position         Position
	AggregateVersion int64
	Events           []Event
	IssuedBy         string
	CommittedAt      time.Time
}

// Validate checks the structural invariants every consumer relies on.
func (cs *Changeset) Validate() error {
	if cs == nil {
		return fmt.Errorf("%w: nil changeset", ErrInvalidChangeset)
	}
	if cs.Position <= Genesis {
		return fmt.Errorf("%w: position %d is not after genesis", ErrInvalidChangeset, cs.Position)
	}
	if len(cs.Events) == 0 {
		return fmt.Errorf("%w: no events at position %d", ErrInvalidChangeset, cs.Position)
	}
	if cs.AggregateID.IsZero() {
		return fmt.Errorf("%w: missing aggregate id at position %d", ErrInvalidChangeset, cs.Position)
	}
	for i, evt := range cs.Events {
		if evt.Type == "" {
			return fmt.Errorf("%w: event %d at position %d has no type", ErrInvalidChangeset, i, cs.Position)
		}
	}
	return nil
}

// EventTypes returns the tags of the changeset events in order.
func (cs *Changeset) EventTypes() []EventType {
	out := make([]EventType, len(cs.Events))
	for i, evt := range cs.Events {
		out[i] = evt.Type
	}
	return out
}
