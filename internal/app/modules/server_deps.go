package modules

import (
	"readmodel.dev/projector/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	var deps handlers.ServerDeps
	if infra != nil && infra.DB != nil && infra.DB.Pool != nil {
		deps.DB = infra.DB.Pool
	}
	if infra != nil && infra.Pools != nil {
		deps.Workers = infra.Pools
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
