package document

import (
	"slices"
	"time"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/readmodel"
)

// ActivityName is the read-model name of Activity.
const ActivityName = "document_activity"

// Activity counts every change of a document. It handles the abstract
// document.changed tag, so new document events are counted without a new
// handler.
type Activity struct {
	Changes    int       `json:"changes"`
	LastEvent  string    `json:"last_event"`
	LastChange time.Time `json:"last_change"`
	Editors    []string  `json:"editors"`
	Closed     bool      `json:"closed"`
}

// NewActivityDefinition builds the Activity handler table over types.
func NewActivityDefinition(types *domain.EventTypes) (*readmodel.Definition[Activity], error) {
	return readmodel.NewDefinition[Activity](ActivityName, types).
		On(Changed, onActivity).
		On(Deleted, func(a *Activity, evt domain.Event, cs *domain.Changeset) error {
			if err := onActivity(a, evt, cs); err != nil {
				return err
			}
			a.Closed = true
			return nil
		}).
		Build()
}

func onActivity(a *Activity, evt domain.Event, cs *domain.Changeset) error {
	a.Changes++
	a.LastEvent = string(evt.Type)
	a.LastChange = cs.CommittedAt
	if cs.IssuedBy != "" && !slices.Contains(a.Editors, cs.IssuedBy) {
		a.Editors = append(a.Editors, cs.IssuedBy)
	}
	return nil
}
