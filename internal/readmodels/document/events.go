// Package document holds the document read models served by the projector.
//
// Documents are written elsewhere; this package only declares the event
// variants the write side emits and the read models built from them.
//
// Import Path: readmodel.dev/projector/internal/readmodels/document
package document

import (
	"fmt"

	"readmodel.dev/projector/internal/domain"
)

// AggregatePrefix is the identity prefix of document aggregates.
const AggregatePrefix = "Document"

// OwnerKind is the identity kind of the "owner" reference.
const OwnerKind = "User"

// Event tags. Changed is abstract: every concrete document event derives
// from it.
const (
	Changed domain.EventType = "document.changed"
	Created domain.EventType = "document.created"
	Renamed domain.EventType = "document.renamed"
	Touched domain.EventType = "document.touched"
	Deleted domain.EventType = "document.deleted"
)

// CreatedPayload is the payload of document.created. The owner travels as
// the "owner" alias reference.
type CreatedPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// RenamedPayload is the payload of document.renamed.
type RenamedPayload struct {
	Title string `json:"title"`
}

// DeletedPayload is the payload of document.deleted.
type DeletedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterEvents adds the document event variants to r.
func RegisterEvents(r *domain.EventTypes) error {
	if err := r.RegisterAbstract(Changed); err != nil {
		return fmt.Errorf("register document events: %w", err)
	}
	regs := []func() error{
		func() error { return domain.RegisterJSON[CreatedPayload](r, Created, Changed) },
		func() error { return domain.RegisterJSON[RenamedPayload](r, Renamed, Changed) },
		func() error { return r.Register(Touched, nil, Changed) },
		func() error { return domain.RegisterJSON[DeletedPayload](r, Deleted, Changed) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return fmt.Errorf("register document events: %w", err)
		}
	}
	return nil
}
