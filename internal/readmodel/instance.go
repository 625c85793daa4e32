package readmodel

import (
	"encoding/json"
	"fmt"
	"time"

	"readmodel.dev/projector/internal/domain"
)

// Metadata is the bookkeeping every atomic read model carries.
type Metadata struct {
	ID                domain.Identity `json:"id"`
	ProjectedPosition domain.Position `json:"projected_position"`
	AggregateVersion  int64           `json:"aggregate_version"`
	CreatedBy         string          `json:"created_by,omitzero"`
	CreatedAt         time.Time       `json:"created_at,omitzero"`
	ModifiedBy        string          `json:"modified_by,omitzero"`
	ModifiedAt        time.Time       `json:"modified_at,omitzero"`
}

// Outcome reports what a changeset meant to an instance.
type Outcome struct {
	// Relevant is true when at least one event has a handler, whether or not
	// the changeset was fresh.
	Relevant bool
	// Changed is true when state and metadata were updated.
	Changed bool
}

// Instance is the read model of one aggregate. It is not safe for concurrent
// use; a slot worker owns it while dispatching.
type Instance[S any] struct {
	def   *Definition[S]
	meta  Metadata
	state S
}

// ID returns the aggregate identity the instance was created for.
func (i *Instance[S]) ID() domain.Identity { return i.meta.ID }

// Metadata returns a copy of the instance bookkeeping.
func (i *Instance[S]) Metadata() Metadata { return i.meta }

// ProjectedPosition returns the position of the last applied changeset.
func (i *Instance[S]) ProjectedPosition() domain.Position { return i.meta.ProjectedPosition }

// State returns the current state value.
func (i *Instance[S]) State() S { return i.state }

// ProcessChangeset applies cs and reports whether it was relevant.
func (i *Instance[S]) ProcessChangeset(cs *domain.Changeset) (bool, error) {
	out, err := i.Apply(cs)
	return out.Relevant, err
}

// Apply applies cs when it is fresh and relevant. Handlers run in event order
// on a copy of the state; the copy replaces the state only if all succeed.
func (i *Instance[S]) Apply(cs *domain.Changeset) (Outcome, error) {
	if i.def == nil || i.def.resolved == nil {
		return Outcome{}, ErrNotBuilt
	}
	if err := cs.Validate(); err != nil {
		return Outcome{}, err
	}

	matched := make([]Handler[S], len(cs.Events))
	relevant := false
	for idx, evt := range cs.Events {
		if h, ok := i.def.resolved[evt.Type]; ok {
			matched[idx] = h
			relevant = true
		}
	}
	out := Outcome{Relevant: relevant}
	if !relevant || cs.Position <= i.meta.ProjectedPosition {
		return out, nil
	}

	next, err := i.def.clone(i.state)
	if err != nil {
		return out, err
	}
	for idx, h := range matched {
		if h == nil {
			continue
		}
		if err := h(&next, cs.Events[idx], cs); err != nil {
			return out, fmt.Errorf("%w: %s: apply %s at position %d: %w",
				domain.ErrInvalidChangeset, i.def.name, cs.Events[idx].Type, cs.Position, err)
		}
	}

	i.state = next
	if i.meta.ProjectedPosition == domain.Genesis {
		i.meta.CreatedBy = cs.IssuedBy
		i.meta.CreatedAt = cs.CommittedAt
	}
	i.meta.ProjectedPosition = cs.Position
	i.meta.AggregateVersion = cs.AggregateVersion
	i.meta.ModifiedBy = cs.IssuedBy
	i.meta.ModifiedAt = cs.CommittedAt
	out.Changed = true
	return out, nil
}

// Record serializes the instance for a Collection.
func (i *Instance[S]) Record() (Record, error) {
	raw, err := json.Marshal(i.state)
	if err != nil {
		return Record{}, fmt.Errorf("%s: encode state of %s: %w", i.def.name, i.meta.ID, err)
	}
	return Record{Metadata: i.meta, State: raw}, nil
}

// Restore builds an instance from a stored record.
func (d *Definition[S]) Restore(rec Record) (*Instance[S], error) {
	inst := &Instance[S]{def: d, meta: rec.Metadata}
	if len(rec.State) > 0 {
		if err := json.Unmarshal(rec.State, &inst.state); err != nil {
			return nil, fmt.Errorf("%s: decode state of %s: %w", d.name, rec.ID, err)
		}
	}
	return inst, nil
}
