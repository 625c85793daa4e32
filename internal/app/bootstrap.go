// Package app is the composition root. Bootstrap stays orchestration-only;
// construction lives in the modules.
//
// Import Path: readmodel.dev/projector/internal/app
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/app/modules"
	"readmodel.dev/projector/internal/config"
	"readmodel.dev/projector/internal/infrastructure"
	"readmodel.dev/projector/internal/pkg/worker"
)

// tokenIssuer is the issuer of admin API tokens.
const tokenIssuer = "projector"

// Application holds composed application dependencies.
type Application struct {
	Config     *config.Config
	Router     *gin.Engine
	DB         *infrastructure.DatabaseClients
	Pools      *worker.Pools
	Projection *modules.ProjectionModule
	Modules    []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	return compose(cfg, infra)
}

// compose builds the modules on top of infra. infra is closed on failure.
func compose(cfg *config.Config, infra *modules.Infrastructure) (*Application, error) {
	identityModule, err := modules.NewIdentityModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init identity module: %w", err)
	}
	projectionModule, err := modules.NewProjectionModule(infra, identityModule.Registry())
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init projection module: %w", err)
	}
	allModules := []modules.Module{identityModule, projectionModule}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		periodic = append(periodic, mod.PeriodicJobs()...)
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		_ = projectionModule.Shutdown(context.Background())
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:     cfg,
		Router:     newRouter(cfg, server, NewJWTConfig(cfg)),
		DB:         infra.DB,
		Pools:      infra.Pools,
		Projection: projectionModule,
		Modules:    allModules,
		infra:      infra,
	}, nil
}

// NewJWTConfig returns the token settings of the admin API.
func NewJWTConfig(cfg *config.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSecret),
		Issuer:     tokenIssuer,
		ExpiresIn:  cfg.Security.TokenLifetime,
	}
}
