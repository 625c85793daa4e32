package document

import (
	"fmt"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/readmodel"
)

// SummaryName is the read-model name of Summary.
const SummaryName = "document_summary"

// Summary is the listing view of a document. Touch events do not concern it.
type Summary struct {
	Title     string          `json:"title"`
	Owner     domain.Identity `json:"owner,omitempty"`
	BodySize  int             `json:"body_size"`
	Renames   int             `json:"renames"`
	Deleted   bool            `json:"deleted"`
	DeletedBy string          `json:"deleted_by,omitempty"`
}

// NewSummaryDefinition builds the Summary handler table over types.
func NewSummaryDefinition(types *domain.EventTypes) (*readmodel.Definition[Summary], error) {
	return readmodel.NewDefinition[Summary](SummaryName, types).
		On(Created, onSummaryCreated).
		On(Renamed, readmodel.Typed(func(s *Summary, p RenamedPayload, _ *domain.Changeset) error {
			if s.Deleted {
				return nil
			}
			s.Title = p.Title
			s.Renames++
			return nil
		})).
		On(Deleted, func(s *Summary, _ domain.Event, cs *domain.Changeset) error {
			s.Deleted = true
			s.DeletedBy = cs.IssuedBy
			return nil
		}).
		Build()
}

func onSummaryCreated(s *Summary, evt domain.Event, _ *domain.Changeset) error {
	p, ok := evt.Payload.(CreatedPayload)
	if !ok {
		return fmt.Errorf("%w: %s carries %T", domain.ErrInvalidChangeset, evt.Type, evt.Payload)
	}
	s.Title = p.Title
	s.BodySize = len(p.Body)
	if owner, ok := evt.Ref("owner"); ok {
		s.Owner = owner
	}
	return nil
}
