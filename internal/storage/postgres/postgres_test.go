package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/readmodel"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, Migrate(context.Background(), mock))
}

func TestAliasStore_Get(t *testing.T) {
	mock := newMock(t)
	store := NewAliasStore(mock)
	ctx := context.Background()

	q := regexp.QuoteMeta("SELECT identity FROM identity_aliases WHERE kind = $1 AND alias = $2")
	mock.ExpectQuery(q).WithArgs("Doc", "readme").
		WillReturnRows(pgxmock.NewRows([]string{"identity"}).AddRow("Doc_7"))
	mock.ExpectQuery(q).WithArgs("Doc", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"identity"}))

	id, found, err := store.Get(ctx, "Doc", "readme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.Identity("Doc_7"), id)

	_, found, err = store.Get(ctx, "Doc", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAliasStore_InsertIfAbsent(t *testing.T) {
	mock := newMock(t)
	store := NewAliasStore(mock)
	ctx := context.Background()

	insert := regexp.QuoteMeta("INSERT INTO identity_aliases (kind, alias, identity)")
	mock.ExpectExec(insert).WithArgs("Doc", "readme", "Doc_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, winner, err := store.InsertIfAbsent(ctx, "Doc", "readme", "Doc_1")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, domain.Identity("Doc_1"), winner)

	// Lost race: the conflicting row wins.
	mock.ExpectExec(insert).WithArgs("Doc", "readme", "Doc_2").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT identity FROM identity_aliases")).
		WithArgs("Doc", "readme").
		WillReturnRows(pgxmock.NewRows([]string{"identity"}).AddRow("Doc_1"))

	inserted, winner, err = store.InsertIfAbsent(ctx, "Doc", "readme", "Doc_2")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, domain.Identity("Doc_1"), winner)
}

func TestAliasStore_ReverseLookups(t *testing.T) {
	mock := newMock(t)
	store := NewAliasStore(mock)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT alias FROM identity_aliases WHERE kind = $1 AND identity = $2")).
		WithArgs("Doc", "Doc_9").
		WillReturnRows(pgxmock.NewRows([]string{"alias"}))
	_, found, err := store.GetAlias(ctx, "Doc", "Doc_9")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT identity, alias FROM identity_aliases WHERE kind = $1 AND identity = ANY($2)")).
		WithArgs("Doc", []string{"Doc_1", "Doc_2", "Doc_3"}).
		WillReturnRows(pgxmock.NewRows([]string{"identity", "alias"}).
			AddRow("Doc_1", "one").
			AddRow("Doc_2", "two"))
	got, err := store.GetMany(ctx, "Doc", []domain.Identity{"Doc_1", "Doc_2", "Doc_3"})
	require.NoError(t, err)
	assert.Equal(t, map[domain.Identity]string{"Doc_1": "one", "Doc_2": "two"}, got)

	got, err = store.GetMany(ctx, "Doc", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCounter_Next(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO identity_counters")).
		WithArgs("Doc").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(3)))

	v, err := NewCounter(mock).Next(context.Background(), "Doc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestCheckpointStore(t *testing.T) {
	mock := newMock(t)
	store := NewCheckpointStore(mock)
	ctx := context.Background()

	get := regexp.QuoteMeta("SELECT position FROM projection_checkpoints WHERE slot = $1")
	mock.ExpectQuery(get).WithArgs("main").WillReturnRows(pgxmock.NewRows([]string{"position"}))
	mock.ExpectExec(regexp.QuoteMeta("WHERE projection_checkpoints.position < EXCLUDED.position")).
		WithArgs("main", int64(50)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(get).WithArgs("main").WillReturnRows(pgxmock.NewRows([]string{"position"}).AddRow(int64(50)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT slot, position FROM projection_checkpoints")).
		WillReturnRows(pgxmock.NewRows([]string{"slot", "position"}).AddRow("main", int64(50)).AddRow("slow", int64(7)))

	pos, found, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, domain.Genesis, pos)

	require.NoError(t, store.Set(ctx, "main", 50))

	pos, found, err = store.Get(ctx, "main")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.Position(50), pos)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.Position{"main": 50, "slow": 7}, all)
}

func TestCheckpointStore_Reset(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM projection_checkpoints WHERE slot = $1")).
		WithArgs("main").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, NewCheckpointStore(mock).Reset(context.Background(), "main"))
}

func TestCheckpointStore_SetError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO projection_checkpoints").WillReturnError(errors.New("conn closed"))
	err := NewCheckpointStore(mock).Set(context.Background(), "main", 1)
	assert.ErrorContains(t, err, "conn closed")
}

var commitColumns = []string{
	"position", "commit_id", "aggregate_id", "aggregate_kind", "aggregate_alias",
	"version", "issued_by", "committed_at", "events",
}

func TestCommitLog_FetchPages(t *testing.T) {
	mock := newMock(t)
	log := NewCommitLog(mock, "main-db", "acme", 2)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []byte(`[{"type":"doc.renamed","payload":{"name":"x"},"aliases":{"owner":{"kind":"User","alias":"bob"}}}]`)

	q := regexp.QuoteMeta("FROM commits")
	mock.ExpectQuery(q).WithArgs("main-db", "acme", int64(0), 2).
		WillReturnRows(pgxmock.NewRows(commitColumns).
			AddRow(int64(1), "c1", "Doc_1", "", "", int64(1), "admin", at, events).
			AddRow(int64(3), "c3", "", "Doc", "readme", int64(1), "admin", at, events))
	mock.ExpectQuery(q).WithArgs("main-db", "acme", int64(3), 2).
		WillReturnRows(pgxmock.NewRows(commitColumns))

	c, ok, err := log.Fetch(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Position(1), c.Position)
	assert.Equal(t, "Doc_1", c.AggregateID)
	require.Len(t, c.Events, 1)
	assert.Equal(t, commitlog.AliasRef{Kind: "User", Alias: "bob"}, c.Events[0].Aliases["owner"])

	// Served from the page.
	c, ok, err = log.Fetch(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Position(3), c.Position)
	assert.Equal(t, &commitlog.AliasRef{Kind: "Doc", Alias: "readme"}, c.AggregateAlias)

	_, ok, err = log.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitLog_PagePerReader(t *testing.T) {
	mock := newMock(t)
	log := NewCommitLog(mock, "p", "", 2)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []byte(`[{"type":"doc.touched"}]`)

	q := regexp.QuoteMeta("FROM commits")
	mock.ExpectQuery(q).WithArgs("p", "", int64(0), 2).
		WillReturnRows(pgxmock.NewRows(commitColumns).
			AddRow(int64(1), "c1", "Doc_1", "", "", int64(1), "admin", at, events).
			AddRow(int64(2), "c2", "Doc_1", "", "", int64(2), "admin", at, events))
	mock.ExpectQuery(q).WithArgs("p", "", int64(40), 2).
		WillReturnRows(pgxmock.NewRows(commitColumns).
			AddRow(int64(41), "c41", "Doc_2", "", "", int64(1), "admin", at, events).
			AddRow(int64(42), "c42", "Doc_2", "", "", int64(2), "admin", at, events))
	mock.ExpectQuery(q).WithArgs("p", "", int64(2), 2).
		WillReturnRows(pgxmock.NewRows(commitColumns).
			AddRow(int64(3), "c3", "Doc_1", "", "", int64(3), "admin", at, events))

	// Two slots at different offsets interleave; each keeps its page.
	fetch := func(after domain.Position) domain.Position {
		c, ok, err := log.Fetch(ctx, after)
		require.NoError(t, err)
		require.True(t, ok)
		return c.Position
	}
	assert.Equal(t, domain.Position(1), fetch(0))
	assert.Equal(t, domain.Position(41), fetch(40))
	assert.Equal(t, domain.Position(2), fetch(1))
	assert.Equal(t, domain.Position(42), fetch(41))
	assert.Equal(t, domain.Position(3), fetch(2), "running off a page queries the next one")
	assert.Equal(t, domain.Position(42), fetch(41), "the other reader's page survives")
}

func TestCommitLog_BadEventsBecomeMalformed(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM commits").
		WillReturnRows(pgxmock.NewRows(commitColumns).
			AddRow(int64(4), "c4", "Doc_1", "", "", int64(1), "admin", time.Now(), []byte(`{"not":"a list"}`)))

	src := commitlog.NewSource(NewCommitLog(mock, "p", "", 0), nil, nil)
	_, _, err := src.FetchNext(context.Background(), 3)
	mce, ok := commitlog.IsMalformed(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, domain.Position(4), mce.Position)
}

func TestCommitLog_Unavailable(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM commits").WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position), 0) FROM commits")).
		WithArgs("p", "").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(12)))

	log := NewCommitLog(mock, "p", "", 0)
	_, _, err := log.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, commitlog.ErrUnavailable)

	head, err := log.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Position(12), head)
}

func TestCommitLog_Append(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO commits")).
		WithArgs("p", "t", "c9", "Doc_1", "", "", int64(2), "admin", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"position"}).AddRow(int64(9)))

	pos, err := NewCommitLog(mock, "p", "t", 0).Append(context.Background(), commitlog.RawCommit{
		CommitID:    "c9",
		AggregateID: "Doc_1",
		Version:     2,
		IssuedBy:    "admin",
		Events:      []commitlog.RawEvent{{Type: "doc.touched"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Position(9), pos)
}

func TestCollection(t *testing.T) {
	mock := newMock(t)
	coll := NewCollection(mock)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := readmodel.Record{
		Metadata: readmodel.Metadata{
			ID:                "Doc_1",
			ProjectedPosition: 4,
			AggregateVersion:  2,
			CreatedBy:         "admin",
			CreatedAt:         at,
			ModifiedBy:        "bob",
			ModifiedAt:        at,
		},
		State: json.RawMessage(`{"title":"x"}`),
	}

	mock.ExpectExec(regexp.QuoteMeta("WHERE readmodels.projected_position < EXCLUDED.projected_position")).
		WithArgs("summary", "Doc_1", int64(4), int64(2), "admin", at, "bob", at, []byte(`{"title":"x"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, coll.Save(ctx, "summary", rec))

	load := regexp.QuoteMeta("FROM readmodels WHERE name = $1 AND id = $2")
	mock.ExpectQuery(load).WithArgs("summary", "Doc_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "projected_position", "aggregate_version", "created_by", "created_at", "modified_by", "modified_at", "state"}).
			AddRow("Doc_1", int64(4), int64(2), "admin", at, "bob", at, []byte(`{"title":"x"}`)))
	got, found, err := coll.Load(ctx, "summary", "Doc_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.JSONEq(t, `{"title":"x"}`, string(got.State))

	mock.ExpectQuery(load).WithArgs("summary", "Doc_2").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	_, found, err = coll.Load(ctx, "summary", "Doc_2")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM readmodels WHERE name = $1")).
		WithArgs("summary").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	require.NoError(t, coll.Purge(ctx, "summary"))
}
