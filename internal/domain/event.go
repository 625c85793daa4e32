package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrEventTypeRequired indicates an empty event tag.
	ErrEventTypeRequired = errors.New("event type is required")
	// ErrEventTypeDuplicate indicates a tag registered twice.
	ErrEventTypeDuplicate = errors.New("event type already registered")
	// ErrEventTypeUnknownParent indicates a parent tag that was never registered.
	ErrEventTypeUnknownParent = errors.New("unknown parent event type")
)

// EventType is the tag of an event variant, e.g. "document.created".
type EventType string

// Event is one tagged event record inside a changeset.
type Event struct {
	// Type is the variant tag used for handler lookup.
	Type EventType
	// Payload is the decoded variant payload, or json.RawMessage when the tag
	// has no registered decoder.
	Payload any
	// Refs holds alias-bearing references resolved to identities, keyed by
	// reference name (e.g. "owner").
	Refs map[string]Identity
}

// Ref returns the resolved identity for a named reference.
func (e Event) Ref(name string) (Identity, bool) {
	id, ok := e.Refs[name]
	return id, ok
}

// Decoder decodes a raw payload into a variant value.
type Decoder func(raw json.RawMessage) (any, error)

type eventTypeEntry struct {
	decode  Decoder
	parents []EventType
}

// EventTypes is the static table of known event variants. Parent tags model
// ancestor or interface types: a handler registered for a parent matches
// every descendant that has no more specific handler.
type EventTypes struct {
	mu      sync.RWMutex
	entries map[EventType]eventTypeEntry
}

// NewEventTypes creates an empty registry.
func NewEventTypes() *EventTypes {
	return &EventTypes{entries: make(map[EventType]eventTypeEntry)}
}

// Register adds a tag with an optional decoder and parent tags. Parents must
// already be registered, which also rules out cycles.
func (r *EventTypes) Register(t EventType, decode Decoder, parents ...EventType) error {
	if t == "" {
		return ErrEventTypeRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t]; exists {
		return fmt.Errorf("%w: %s", ErrEventTypeDuplicate, t)
	}
	for _, p := range parents {
		if _, ok := r.entries[p]; !ok {
			return fmt.Errorf("%w: %s (parent of %s)", ErrEventTypeUnknownParent, p, t)
		}
	}
	r.entries[t] = eventTypeEntry{decode: decode, parents: append([]EventType(nil), parents...)}
	return nil
}

// RegisterAbstract adds a tag that only serves as a parent.
func (r *EventTypes) RegisterAbstract(t EventType, parents ...EventType) error {
	return r.Register(t, nil, parents...)
}

// RegisterJSON registers t with a JSON decoder producing values of type T.
func RegisterJSON[T any](r *EventTypes, t EventType, parents ...EventType) error {
	return r.Register(t, func(raw json.RawMessage) (any, error) {
		var v T
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return v, nil
	}, parents...)
}

// Known reports whether t is registered.
func (r *EventTypes) Known(t EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[t]
	return ok
}

// Types returns all registered tags in lexical order.
func (r *EventTypes) Types() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lineage returns t followed by its ancestors, breadth first, in declaration
// order, without duplicates. This is the handler precedence: most derived
// first. Unknown tags yield only themselves.
func (r *EventTypes) Lineage(t EventType) []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []EventType{t}
	seen := map[EventType]bool{t: true}
	for i := 0; i < len(out); i++ {
		for _, p := range r.entries[out[i]].parents {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Decode decodes raw using the decoder registered for t. Tags without a
// decoder keep the raw payload.
func (r *EventTypes) Decode(t EventType, raw json.RawMessage) (any, error) {
	r.mu.RLock()
	entry, ok := r.entries[t]
	r.mu.RUnlock()
	if !ok || entry.decode == nil {
		return raw, nil
	}
	return entry.decode(raw)
}
