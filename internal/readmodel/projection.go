package readmodel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
)

type projectionOptions struct {
	slot   string
	prefix string
}

// ProjectionOption configures a Projection.
type ProjectionOption func(*projectionOptions)

// InSlot assigns the projection to a slot. Empty means the default slot.
func InSlot(slot string) ProjectionOption {
	return func(o *projectionOptions) { o.slot = slot }
}

// ForAggregate restricts the projection to aggregates whose identity prefix
// is prefix, e.g. "Document".
func ForAggregate(prefix string) ProjectionOption {
	return func(o *projectionOptions) { o.prefix = prefix }
}

// Projection routes changesets to the instance of their aggregate and keeps
// the instances in a Collection.
type Projection[S any] struct {
	def  *Definition[S]
	coll Collection
	opts projectionOptions
}

// NewProjection creates a projection over a built definition.
func NewProjection[S any](def *Definition[S], coll Collection, opts ...ProjectionOption) *Projection[S] {
	p := &Projection[S]{def: def, coll: coll}
	for _, opt := range opts {
		opt(&p.opts)
	}
	return p
}

// Name returns the read-model name.
func (p *Projection[S]) Name() string { return p.def.Name() }

// Slot returns the configured slot.
func (p *Projection[S]) Slot() string { return p.opts.slot }

// Handle applies cs to the instance of cs.AggregateID and reports relevance.
// The instance is saved only when its state changed. Failures of the changeset
// itself wrap domain.ErrInvalidChangeset; Collection failures wrap
// ErrStoreUnavailable.
func (p *Projection[S]) Handle(ctx context.Context, cs *domain.Changeset) (bool, error) {
	if err := cs.Validate(); err != nil {
		return false, err
	}
	if p.opts.prefix != "" && cs.AggregateID.Prefix() != p.opts.prefix {
		return false, nil
	}
	if !p.def.Relevant(cs) {
		return false, nil
	}

	inst, _, err := p.Get(ctx, cs.AggregateID)
	if err != nil {
		return false, err
	}
	out, err := inst.Apply(cs)
	if err != nil {
		return out.Relevant, err
	}
	if !out.Changed {
		logger.Debug("Stale changeset ignored",
			zap.String("projection", p.def.Name()),
			zap.String("aggregate_id", cs.AggregateID.String()),
			zap.Int64("position", int64(cs.Position)),
			zap.Int64("projected_position", int64(inst.ProjectedPosition())),
		)
		return out.Relevant, nil
	}

	rec, err := inst.Record()
	if err != nil {
		return out.Relevant, fmt.Errorf("%w: %w", domain.ErrInvalidChangeset, err)
	}
	if err := p.coll.Save(ctx, p.def.Name(), rec); err != nil {
		return out.Relevant, fmt.Errorf("%w: %s: save %s: %w", ErrStoreUnavailable, p.def.Name(), cs.AggregateID, err)
	}
	return out.Relevant, nil
}

// Get loads the instance of id, or a fresh one when none is stored.
func (p *Projection[S]) Get(ctx context.Context, id domain.Identity) (*Instance[S], bool, error) {
	rec, found, err := p.coll.Load(ctx, p.def.Name(), id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: load %s: %w", ErrStoreUnavailable, p.def.Name(), id, err)
	}
	if !found {
		return p.def.New(id), false, nil
	}
	inst, err := p.def.Restore(rec)
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// Reset drops every stored instance before a rebuild.
func (p *Projection[S]) Reset(ctx context.Context) error {
	if err := p.coll.Purge(ctx, p.def.Name()); err != nil {
		return fmt.Errorf("%w: %s: purge: %w", ErrStoreUnavailable, p.def.Name(), err)
	}
	logger.Info("Read model purged for rebuild", zap.String("projection", p.def.Name()))
	return nil
}
