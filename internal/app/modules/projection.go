package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/checkpoint"
	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/jobs"
	"readmodel.dev/projector/internal/pkg/backoff"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/projection"
	"readmodel.dev/projector/internal/readmodels/document"
)

// ProjectionModule wires the commit source, the checkpoint tracker and the
// document read models into a projection engine.
type ProjectionModule struct {
	infra       *Infrastructure
	types       *domain.EventTypes
	source      *commitlog.Source
	tracker     *checkpoint.Tracker
	projections *document.Projections
	rebuild     *projection.RebuildContext
	engine      *projection.Engine
}

// NewProjectionModule builds the engine from configuration. The engine is
// not started.
func NewProjectionModule(infra *Infrastructure, translators *identity.Registry) (*ProjectionModule, error) {
	if infra == nil || infra.Config == nil || infra.Pools == nil {
		return nil, fmt.Errorf("infrastructure is not initialized")
	}
	cfg := infra.Config

	types := domain.NewEventTypes()
	if err := document.RegisterEvents(types); err != nil {
		return nil, fmt.Errorf("register document events: %w", err)
	}

	source := commitlog.NewSource(infra.Stores.CommitLog, types, translators,
		commitlog.WithAutoCreateAliases(cfg.CommitLog.AutoCreateAliases))
	tracker := checkpoint.NewTracker(infra.Stores.Checkpoints)

	projs, err := document.NewProjections(types, infra.Stores.Collection)
	if err != nil {
		return nil, err
	}

	policy := backoff.Default()
	policy.Base = cfg.Projection.BackoffBase
	policy.Max = cfg.Projection.BackoffMax

	rebuild := projection.NewRebuildContext(cfg.Projection.Rebuild)
	engine, err := projection.NewEngine(projection.Config{
		Slots:                 cfg.Projection.Slots,
		PollInterval:          cfg.Projection.PollInterval,
		Backoff:               policy,
		CheckpointRetries:     cfg.Projection.CheckpointRetries,
		SkipInvalidChangesets: cfg.Projection.SkipInvalidChangesets,
	}, projection.Deps{
		Tracker:     tracker,
		Source:      source,
		Projections: []projection.Projection{projs.Summary, projs.Activity},
		Rebuild:     rebuild,
		Pool:        infra.Pools.Slots,
		Notifier:    commitLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("init projection engine: %w", err)
	}

	return &ProjectionModule{
		infra:       infra,
		types:       types,
		source:      source,
		tracker:     tracker,
		projections: projs,
		rebuild:     rebuild,
		engine:      engine,
	}, nil
}

func (m *ProjectionModule) Name() string { return "projection" }

// Engine returns the projection engine.
func (m *ProjectionModule) Engine() *projection.Engine { return m.engine }

// Projections returns the document read models.
func (m *ProjectionModule) Projections() *document.Projections { return m.projections }

// Start runs the engine in the mode the configuration selects.
func (m *ProjectionModule) Start(ctx context.Context) error {
	if m.infra.Config.Projection.ManualPoll {
		return m.engine.StartWithManualPoll(ctx)
	}
	return m.engine.Start(ctx)
}

func (m *ProjectionModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Engine = m.engine
	deps.Checkpoints = m.tracker
	deps.Progress = m.tracker
}

func (m *ProjectionModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewCheckpointLagWorker(m.source, m.infra.Stores.Checkpoints, 0))
}

func (m *ProjectionModule) PeriodicJobs() []*river.PeriodicJob {
	interval := m.infra.Config.River.LagReportInterval
	if interval <= 0 {
		interval = jobs.DefaultLagReportInterval
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.CheckpointLagArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// Shutdown stops the engine. Checkpoints the slots may persist are flushed
// before it returns.
func (m *ProjectionModule) Shutdown(context.Context) error {
	m.engine.Close()
	return nil
}

// commitLogger traces every dispatched changeset at debug level.
type commitLogger struct{}

func (commitLogger) CommitHandled(_ context.Context, slot string, cs *domain.Changeset, handled int) {
	logger.Debug("commit handled",
		zap.String("slot", slot),
		zap.Int64("position", int64(cs.Position)),
		zap.String("aggregate_id", cs.AggregateID.String()),
		zap.Int("projections", handled),
	)
}
