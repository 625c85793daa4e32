// Package handlers implements the projector admin API.
//
// Handlers never register their own routes: RegisterHandlers wires them to
// the paths of the embedded OpenAPI document.
//
// Import Path: readmodel.dev/projector/internal/api/handlers
package handlers

import (
	"context"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/pkg/worker"
	"readmodel.dev/projector/internal/projection"
)

// Engine is the part of the projection engine the API drives.
type Engine interface {
	Slots() []string
	Status() []projection.SlotStatus
	ManualPoll() bool
	Tick(ctx context.Context) error
}

// CheckpointReader reads persisted checkpoints.
type CheckpointReader interface {
	GetCheckpoint(ctx context.Context, slot string) (domain.Position, error)
}

// ProgressReader reports the checkpoints recorded in this process.
type ProgressReader interface {
	Snapshot() map[string]domain.Position
}

// PoolMetrics reports worker pool occupancy.
type PoolMetrics interface {
	Metrics() map[string]worker.PoolStats
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements the admin API handlers.
type Server struct {
	engine      Engine
	checkpoints CheckpointReader
	translators *identity.Registry
	db          Pinger
	progress    ProgressReader
	workers     PoolMetrics
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Engine      Engine
	Checkpoints CheckpointReader
	Translators *identity.Registry
	// DB is optional; without it the health check skips the database.
	DB Pinger
	// Progress and Workers are optional extras on the health report.
	Progress ProgressReader
	Workers  PoolMetrics
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		engine:      deps.Engine,
		checkpoints: deps.Checkpoints,
		translators: deps.Translators,
		db:          deps.DB,
		progress:    deps.Progress,
		workers:     deps.Workers,
	}
}

// SlotList is the response of the slot endpoints.
type SlotList struct {
	ManualPoll bool                    `json:"manual_poll"`
	Slots      []projection.SlotStatus `json:"slots"`
}

func (s *Server) slotList() SlotList {
	return SlotList{ManualPoll: s.engine.ManualPoll(), Slots: s.engine.Status()}
}
