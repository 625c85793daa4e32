package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/readmodels/document"
)

// IdentityModule owns one Identity Translator per aggregate kind.
type IdentityModule struct {
	registry *identity.Registry
}

// NewIdentityModule builds translators for every identity kind the read
// models reference. All kinds share the alias store and the generator.
func NewIdentityModule(infra *Infrastructure) (*IdentityModule, error) {
	if infra == nil || infra.Stores.Aliases == nil || infra.Stores.Generator == nil {
		return nil, fmt.Errorf("identity module requires alias store and generator")
	}
	kinds := []string{document.AggregatePrefix, document.OwnerKind}
	translators := make([]*identity.Translator, 0, len(kinds))
	for _, kind := range kinds {
		tr, err := identity.NewTranslator(kind, infra.Stores.Aliases, infra.Stores.Generator)
		if err != nil {
			return nil, fmt.Errorf("translator %s: %w", kind, err)
		}
		translators = append(translators, tr)
	}
	registry, err := identity.NewRegistry(translators...)
	if err != nil {
		return nil, err
	}
	return &IdentityModule{registry: registry}, nil
}

func (m *IdentityModule) Name() string { return "identity" }

// Registry returns the translators by kind.
func (m *IdentityModule) Registry() *identity.Registry { return m.registry }

func (m *IdentityModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Translators = m.registry
}

func (m *IdentityModule) RegisterWorkers(*river.Workers) {}

func (m *IdentityModule) PeriodicJobs() []*river.PeriodicJob { return nil }

func (m *IdentityModule) Shutdown(context.Context) error { return nil }
