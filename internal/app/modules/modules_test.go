package modules

import (
	"context"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/config"
	"readmodel.dev/projector/internal/projection"
	"readmodel.dev/projector/internal/readmodels/document"
)

func memoryConfig() *config.Config {
	return &config.Config{
		River:  config.RiverConfig{LagReportInterval: time.Minute},
		Worker: config.WorkerConfig{GeneralPoolSize: 2, SlotPoolSize: 2},
		Projection: config.ProjectionConfig{
			Slots:             []string{document.SummarySlot},
			ManualPoll:        true,
			PollInterval:      10 * time.Millisecond,
			BackoffBase:       time.Millisecond,
			BackoffMax:        10 * time.Millisecond,
			CheckpointRetries: 2,
		},
		CommitLog: config.CommitLogConfig{ConnectionID: "default", AutoCreateAliases: true},
		Identity:  config.IdentityConfig{Generator: config.GeneratorMemory},
	}
}

func newMemoryInfra(t *testing.T, cfg *config.Config) *Infrastructure {
	t.Helper()
	infra, err := NewMemoryInfrastructure(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(infra.Close)
	return infra
}

func TestIdentityModule_TranslatorsPerKind(t *testing.T) {
	infra := newMemoryInfra(t, memoryConfig())

	mod, err := NewIdentityModule(infra)
	require.NoError(t, err)
	assert.Equal(t, []string{document.AggregatePrefix, document.OwnerKind}, mod.Registry().Kinds())

	docs, ok := mod.Registry().Lookup(document.AggregatePrefix)
	require.True(t, ok)
	id, err := docs.Translate(context.Background(), "readme", true)
	require.NoError(t, err)
	assert.Equal(t, document.AggregatePrefix, id.Prefix())
}

func TestIdentityModule_RequiresStores(t *testing.T) {
	_, err := NewIdentityModule(&Infrastructure{})
	assert.Error(t, err)
}

func TestProjectionModule_SlotSelection(t *testing.T) {
	infra := newMemoryInfra(t, memoryConfig())
	ids, err := NewIdentityModule(infra)
	require.NoError(t, err)

	mod, err := NewProjectionModule(infra, ids.Registry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Shutdown(context.Background()) })

	// Only the summary slot is configured; the activity projection stays unassigned.
	assert.Equal(t, []string{document.SummarySlot}, mod.Engine().Slots())

	require.NoError(t, mod.Start(context.Background()))
	assert.True(t, mod.Engine().ManualPoll())
	assert.ErrorIs(t, mod.Start(context.Background()), projection.ErrAlreadyRunning)
}

func TestProjectionModule_LagJob(t *testing.T) {
	infra := newMemoryInfra(t, memoryConfig())
	ids, err := NewIdentityModule(infra)
	require.NoError(t, err)
	mod, err := NewProjectionModule(infra, ids.Registry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Shutdown(context.Background()) })

	assert.Len(t, mod.PeriodicJobs(), 1)
	assert.NotPanics(t, func() { mod.RegisterWorkers(river.NewWorkers()) })
}

func TestNewServerDeps(t *testing.T) {
	infra := newMemoryInfra(t, memoryConfig())
	ids, err := NewIdentityModule(infra)
	require.NoError(t, err)
	proj, err := NewProjectionModule(infra, ids.Registry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proj.Shutdown(context.Background()) })

	deps := NewServerDeps(infra, []Module{ids, nil, proj})
	assert.Nil(t, deps.DB, "memory infrastructure has no database")
	assert.Same(t, ids.Registry(), deps.Translators)
	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Checkpoints)
	assert.Same(t, proj.tracker, deps.Progress)
	assert.Same(t, infra.Pools, deps.Workers)

	var empty handlers.ServerDeps
	ids.ContributeServerDeps(nil)
	ids.ContributeServerDeps(&empty)
	assert.NotNil(t, empty.Translators)
}

func TestInfrastructure_InitRiverWithoutDatabase(t *testing.T) {
	infra := newMemoryInfra(t, memoryConfig())
	require.NoError(t, infra.InitRiver(river.NewWorkers(), nil))
	assert.Nil(t, infra.DB)

	var missing *Infrastructure
	assert.Error(t, missing.InitRiver(river.NewWorkers(), nil))
}
