package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/api/openapi"
	"readmodel.dev/projector/internal/checkpoint"
	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/pkg/worker"
	"readmodel.dev/projector/internal/projection"
	"readmodel.dev/projector/internal/readmodel"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type fakeEngine struct {
	manual  bool
	status  []projection.SlotStatus
	tickErr error
	ticks   int
}

func (f *fakeEngine) Slots() []string {
	out := make([]string, len(f.status))
	for i, st := range f.status {
		out[i] = st.Name
	}
	return out
}

func (f *fakeEngine) Status() []projection.SlotStatus { return f.status }
func (f *fakeEngine) ManualPoll() bool                { return f.manual }

func (f *fakeEngine) Tick(context.Context) error {
	f.ticks++
	return f.tickErr
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakePools map[string]worker.PoolStats

func (f fakePools) Metrics() map[string]worker.PoolStats { return f }

var testJWT = middleware.JWTConfig{
	SigningKey: []byte("handlers-test-key-12345678901234567"),
	Issuer:     "projector",
	ExpiresIn:  time.Hour,
}

type fixture struct {
	engine  *fakeEngine
	docs    *identity.Translator
	tracker *checkpoint.Tracker
	router  *gin.Engine
}

func newFixture(t *testing.T, db Pinger) *fixture {
	t.Helper()

	docs, err := identity.NewTranslator("Document", identity.NewMemoryStore(), identity.NewMemoryCounter())
	require.NoError(t, err)
	registry, err := identity.NewRegistry(docs)
	require.NoError(t, err)

	tracker := checkpoint.NewTracker(checkpoint.NewMemoryStore())
	engine := &fakeEngine{
		manual: true,
		status: []projection.SlotStatus{
			{Name: "activity", State: projection.StateIdle, Projections: []string{"document_activity"}},
			{Name: "default", State: projection.StateIdle, Projections: []string{"document_summary"}},
		},
	}

	doc, err := openapi.GetSwagger()
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.MustOpenAPIValidator(doc), middleware.ErrorHandler())
	RegisterHandlers(router, NewServer(ServerDeps{
		Engine:      engine,
		Checkpoints: tracker,
		Translators: registry,
		DB:          db,
		Progress:    tracker,
		Workers:     fakePools{"slots": {Running: 1, Free: 15, Cap: 16}},
	}), middleware.JWTAuth(testJWT), middleware.RequireRole(middleware.RoleOperator))

	return &fixture{engine: engine, docs: docs, tracker: tracker, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, _, err := middleware.GenerateToken(testJWT, "ops", []string{middleware.RoleOperator})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newFixture(t, fakePinger{})
		w := f.do(t, http.MethodGet, "/healthz", "", false)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		h := decode[Health](t, w)
		assert.Equal(t, "ok", h.Status)
		assert.Equal(t, "ok", h.Checks["database"])
		assert.Equal(t, worker.PoolStats{Running: 1, Free: 15, Cap: 16}, h.Workers["slots"])
	})

	t.Run("reports checkpoints", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.tracker.SetCheckpoint(context.Background(), "activity", 7))
		w := f.do(t, http.MethodGet, "/healthz", "", false)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, int64(7), decode[Health](t, w).Checkpoints["activity"])
	})

	t.Run("database down", func(t *testing.T) {
		f := newFixture(t, fakePinger{err: errors.New("refused")})
		w := f.do(t, http.MethodGet, "/healthz", "", false)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "degraded", decode[Health](t, w).Status)
	})

	t.Run("faulted slot", func(t *testing.T) {
		f := newFixture(t, nil)
		f.engine.status[0].State = projection.StateFaulted
		w := f.do(t, http.MethodGet, "/healthz", "", false)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "faulted", decode[Health](t, w).Checks["slot:activity"])
	})
}

func TestListSlots(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/slots", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode[SlotList](t, w)
	assert.True(t, list.ManualPoll)
	require.Len(t, list.Slots, 2)
	assert.Equal(t, "activity", list.Slots[0].Name)
}

func TestPollSlots(t *testing.T) {
	t.Run("requires token", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(t, http.MethodPost, "/api/v1/slots/poll", "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, f.engine.ticks)
	})

	t.Run("ticks the engine", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.do(t, http.MethodPost, "/api/v1/slots/poll", "", true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 1, f.engine.ticks)
	})

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"continuous mode", projection.ErrManualPollDisabled, http.StatusConflict, "MANUAL_POLL_DISABLED"},
		{"not started", projection.ErrNotRunning, http.StatusConflict, "ENGINE_NOT_RUNNING"},
		{"log down", commitlog.ErrUnavailable, http.StatusServiceUnavailable, "COMMIT_LOG_UNAVAILABLE"},
		{"store down", fmt.Errorf("slot default: %w", readmodel.ErrStoreUnavailable), http.StatusServiceUnavailable, "READ_MODEL_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.engine.tickErr = tt.err
			w := f.do(t, http.MethodPost, "/api/v1/slots/poll", "", true)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode[map[string]any](t, w)["code"])
		})
	}
}

func TestGetCheckpoint(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.tracker.SetCheckpoint(context.Background(), "default", 42))

	w := f.do(t, http.MethodGet, "/api/v1/checkpoints/default", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, Checkpoint{Slot: "default", Position: 42}, decode[Checkpoint](t, w))

	w = f.do(t, http.MethodGet, "/api/v1/checkpoints/activity", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(domain.Genesis), decode[Checkpoint](t, w).Position)

	w = f.do(t, http.MethodGet, "/api/v1/checkpoints/unknown", "", false)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SLOT_NOT_FOUND", decode[map[string]any](t, w)["code"])
}

func TestResolveAlias(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.docs.Translate(context.Background(), "readme", true)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/aliases/Document/README", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, AliasMapping{Kind: "Document", Alias: "readme", Identity: id.String()}, decode[AliasMapping](t, w))

	w = f.do(t, http.MethodGet, "/api/v1/aliases/Document/unknown", "", false)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ALIAS_NOT_FOUND", decode[map[string]any](t, w)["code"])
	// Lookups never create identities.
	_, err = f.docs.Translate(context.Background(), "unknown", false)
	assert.ErrorIs(t, err, identity.ErrAliasNotFound)

	w = f.do(t, http.MethodGet, "/api/v1/aliases/Invoice/x", "", false)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TRANSLATOR_UNKNOWN", decode[map[string]any](t, w)["code"])
}

func TestGetIdentityAlias(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.docs.Translate(context.Background(), "readme", true)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/identities/"+id.String()+"/alias", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "readme", decode[AliasMapping](t, w).Alias)

	tests := []struct {
		name     string
		identity string
		wantCode int
		wantErr  string
	}{
		{"malformed", "nope", http.StatusBadRequest, "IDENTITY_INVALID"},
		{"unknown kind", "Invoice_1", http.StatusNotFound, "TRANSLATOR_UNKNOWN"},
		{"no alias", "Document_999", http.StatusNotFound, "IDENTITY_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/identities/"+tt.identity+"/alias", "", false)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode[map[string]any](t, w)["code"])
		})
	}
}

func TestLogLevel(t *testing.T) {
	f := newFixture(t, nil)
	t.Cleanup(func() { _ = logger.SetLevel("error") })

	w := f.do(t, http.MethodGet, "/api/v1/log/level", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "error", decode[LogLevel](t, w).Level)

	w = f.do(t, http.MethodPut, "/api/v1/log/level", `{"level":"debug"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/log/level", `{"level":"debug"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "debug", decode[LogLevel](t, w).Level)

	w = f.do(t, http.MethodPut, "/api/v1/log/level", `{"level":"loud"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
