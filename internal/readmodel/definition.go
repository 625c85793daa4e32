// Package readmodel implements atomic, per-aggregate read models.
//
// A Definition holds the handler table of one read-model type, resolved once
// against the event-type registry. An Instance is the materialized state of a
// single aggregate and applies changesets idempotently: a changeset whose
// position is not newer than the instance's projected position never mutates
// state, and a failing handler leaves the instance untouched.
//
// Import Path: readmodel.dev/projector/internal/readmodel
package readmodel

import (
	"encoding/json"
	"errors"
	"fmt"

	"readmodel.dev/projector/internal/domain"
)

var (
	// ErrNameRequired indicates a definition without a name.
	ErrNameRequired = errors.New("read model name is required")
	// ErrUnknownEventType indicates a handler for a tag the registry does not know.
	ErrUnknownEventType = errors.New("handler registered for unknown event type")
	// ErrDuplicateHandler indicates two handlers for the same tag.
	ErrDuplicateHandler = errors.New("duplicate handler")
	// ErrNotBuilt indicates use of a definition before Build.
	ErrNotBuilt = errors.New("read model definition not built")
	// ErrStoreUnavailable wraps Collection failures. The changeset was not
	// applied durably and must be retried.
	ErrStoreUnavailable = errors.New("read model store unavailable")
)

// Handler mutates state in response to one event of a changeset.
type Handler[S any] func(state *S, evt domain.Event, cs *domain.Changeset) error

// Typed adapts a handler that expects a decoded payload of type P.
func Typed[S, P any](fn func(state *S, payload P, cs *domain.Changeset) error) Handler[S] {
	return func(state *S, evt domain.Event, cs *domain.Changeset) error {
		p, ok := evt.Payload.(P)
		if !ok {
			var zero P
			return fmt.Errorf("%w: event %s carries %T, want %T",
				domain.ErrInvalidChangeset, evt.Type, evt.Payload, zero)
		}
		return fn(state, p, cs)
	}
}

// Definition describes one read-model type.
type Definition[S any] struct {
	name     string
	types    *domain.EventTypes
	handlers map[domain.EventType]Handler[S]
	clone    func(S) (S, error)
	err      error

	resolved map[domain.EventType]Handler[S]
}

// NewDefinition starts a definition named name over the given registry.
func NewDefinition[S any](name string, types *domain.EventTypes) *Definition[S] {
	return &Definition[S]{
		name:     name,
		types:    types,
		handlers: make(map[domain.EventType]Handler[S]),
		clone:    jsonClone[S],
	}
}

// On registers h for tag t. Registering a parent tag makes h the fallback
// for every descendant without a more specific handler.
func (d *Definition[S]) On(t domain.EventType, h Handler[S]) *Definition[S] {
	if d.err != nil {
		return d
	}
	if _, dup := d.handlers[t]; dup {
		d.err = fmt.Errorf("%w: %s.%s", ErrDuplicateHandler, d.name, t)
		return d
	}
	d.handlers[t] = h
	return d
}

// WithClone overrides the state copy used to keep application all-or-nothing.
// The default round-trips through JSON, which is also how state is persisted.
func (d *Definition[S]) WithClone(fn func(S) S) *Definition[S] {
	d.clone = func(s S) (S, error) { return fn(s), nil }
	return d
}

// Build resolves the handler table. Every tag known to the registry gets the
// first handler found along its lineage.
func (d *Definition[S]) Build() (*Definition[S], error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.name == "" {
		return nil, ErrNameRequired
	}
	if d.types == nil {
		d.types = domain.NewEventTypes()
	}
	for t := range d.handlers {
		if !d.types.Known(t) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEventType, d.name, t)
		}
	}

	resolved := make(map[domain.EventType]Handler[S])
	for _, t := range d.types.Types() {
		for _, candidate := range d.types.Lineage(t) {
			if h, ok := d.handlers[candidate]; ok {
				resolved[t] = h
				break
			}
		}
	}
	d.resolved = resolved
	return d, nil
}

// MustBuild is Build for package-level definitions.
func (d *Definition[S]) MustBuild() *Definition[S] {
	built, err := d.Build()
	if err != nil {
		panic(err)
	}
	return built
}

// Name returns the read-model name.
func (d *Definition[S]) Name() string { return d.name }

// Resolve returns the handler for tag t.
func (d *Definition[S]) Resolve(t domain.EventType) (Handler[S], bool) {
	h, ok := d.resolved[t]
	return h, ok
}

// Relevant reports whether any event of cs has a handler.
func (d *Definition[S]) Relevant(cs *domain.Changeset) bool {
	if cs == nil {
		return false
	}
	for _, evt := range cs.Events {
		if _, ok := d.resolved[evt.Type]; ok {
			return true
		}
	}
	return false
}

// New creates an empty instance for aggregate id.
func (d *Definition[S]) New(id domain.Identity) *Instance[S] {
	return &Instance[S]{def: d, meta: Metadata{ID: id}}
}

func jsonClone[S any](s S) (S, error) {
	var out S
	raw, err := json.Marshal(s)
	if err != nil {
		return out, fmt.Errorf("clone state: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("clone state: %w", err)
	}
	return out, nil
}
