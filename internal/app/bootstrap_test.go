package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/app/modules"
	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/config"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/readmodels/document"
)

func init() {
	_ = logger.Init("error", "json")
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Log:      config.LogConfig{Level: "error", Format: "json"},
		River:    config.RiverConfig{LagReportInterval: time.Minute},
		Security: config.SecurityConfig{JWTSecret: strings.Repeat("k", 32), TokenLifetime: time.Hour},
		Worker:   config.WorkerConfig{GeneralPoolSize: 4, SlotPoolSize: 4},
		Projection: config.ProjectionConfig{
			Slots:             []string{"*"},
			ManualPoll:        true,
			PollInterval:      10 * time.Millisecond,
			BackoffBase:       time.Millisecond,
			BackoffMax:        10 * time.Millisecond,
			CheckpointRetries: 3,
		},
		CommitLog: config.CommitLogConfig{ConnectionID: "default", PageSize: 10, AutoCreateAliases: true},
		Identity:  config.IdentityConfig{Generator: config.GeneratorMemory},
	}
}

func TestBootstrap_NoDB(t *testing.T) {
	// Bootstrap without a real database should fail at DB connection.
	cfg := testConfig()
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     65432, // Non-existent port
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app, err := Bootstrap(ctx, cfg)
	require.Error(t, err, "Bootstrap should fail without database")
	assert.Nil(t, app, "Application should be nil on bootstrap failure")
}

func TestApplication_Shutdown_Nil(t *testing.T) {
	// Shutdown on empty application should not panic.
	app := &Application{}

	assert.NotPanics(t, func() {
		app.Shutdown()
	}, "Shutdown on empty Application should not panic")
}

func TestApplication_ManualPollEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	log := commitlog.NewMemoryLog()
	payload, err := json.Marshal(document.CreatedPayload{Title: "Readme", Body: "hello"})
	require.NoError(t, err)
	log.Append(commitlog.RawCommit{
		AggregateAlias: &commitlog.AliasRef{Kind: document.AggregatePrefix, Alias: "readme"},
		IssuedBy:       "alice",
		Events: []commitlog.RawEvent{{
			Type:    string(document.Created),
			Payload: payload,
			Aliases: map[string]commitlog.AliasRef{"owner": {Kind: document.OwnerKind, Alias: "alice"}},
		}},
	})

	infra, err := modules.NewMemoryInfrastructure(cfg, log)
	require.NoError(t, err)
	app, err := compose(cfg, infra)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	require.NoError(t, app.Start(ctx))

	token, _, err := middleware.GenerateToken(NewJWTConfig(cfg), "ops", []string{middleware.RoleOperator})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots/poll", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var slots handlers.SlotList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &slots))
	require.Len(t, slots.Slots, 2)
	for _, st := range slots.Slots {
		assert.Equal(t, domain.Position(1), st.Checkpoint, st.Name)
	}

	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/aliases/Document/readme", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mapping handlers.AliasMapping
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mapping))

	inst, found, err := app.Projection.Projections().Summary.Get(ctx, domain.Identity(mapping.Identity))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Readme", inst.State().Title)
	assert.Equal(t, domain.Position(1), inst.ProjectedPosition())
}

func newMemoryApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	infra, err := modules.NewMemoryInfrastructure(cfg, nil)
	require.NoError(t, err)
	app, err := compose(cfg, infra)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}
