package document

import (
	"fmt"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/readmodel"
)

// Slots the document projections run in unless configured otherwise.
const (
	SummarySlot  = "default"
	ActivitySlot = "activity"
)

// Projections are the document read models wired to a collection.
type Projections struct {
	Summary  *readmodel.Projection[Summary]
	Activity *readmodel.Projection[Activity]
}

// NewProjections builds both document projections over coll. The event
// variants must already be registered in types.
func NewProjections(types *domain.EventTypes, coll readmodel.Collection) (*Projections, error) {
	summary, err := NewSummaryDefinition(types)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", SummaryName, err)
	}
	activity, err := NewActivityDefinition(types)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", ActivityName, err)
	}
	return &Projections{
		Summary: readmodel.NewProjection(summary, coll,
			readmodel.InSlot(SummarySlot), readmodel.ForAggregate(AggregatePrefix)),
		Activity: readmodel.NewProjection(activity, coll,
			readmodel.InSlot(ActivitySlot), readmodel.ForAggregate(AggregatePrefix)),
	}, nil
}
