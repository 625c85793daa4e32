// Package postgres implements the projector stores on PostgreSQL.
//
// Every store runs its statements through DBTX. In production that is the
// pgxpool shared with River.
//
// Import Path: readmodel.dev/projector/internal/storage/postgres
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the part of *pgxpool.Pool and pgx.Tx the stores use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS commits (
		position        BIGSERIAL PRIMARY KEY,
		partition_id    TEXT        NOT NULL,
		tenant          TEXT        NOT NULL DEFAULT '',
		commit_id       TEXT        NOT NULL,
		aggregate_id    TEXT        NOT NULL DEFAULT '',
		aggregate_kind  TEXT        NOT NULL DEFAULT '',
		aggregate_alias TEXT        NOT NULL DEFAULT '',
		version         BIGINT      NOT NULL,
		issued_by       TEXT        NOT NULL DEFAULT '',
		committed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		events          JSONB       NOT NULL,
		UNIQUE (partition_id, tenant, commit_id)
	)`,
	`CREATE INDEX IF NOT EXISTS commits_scope_position_idx
		ON commits (partition_id, tenant, position)`,
	`CREATE TABLE IF NOT EXISTS identity_aliases (
		kind       TEXT        NOT NULL,
		alias      TEXT        NOT NULL,
		identity   TEXT        NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (kind, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS identity_counters (
		kind  TEXT   PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projection_checkpoints (
		slot       TEXT        PRIMARY KEY,
		position   BIGINT      NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS readmodels (
		name               TEXT        NOT NULL,
		id                 TEXT        NOT NULL,
		projected_position BIGINT      NOT NULL,
		aggregate_version  BIGINT      NOT NULL,
		created_by         TEXT        NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL,
		modified_by        TEXT        NOT NULL DEFAULT '',
		modified_at        TIMESTAMPTZ NOT NULL,
		state              JSONB       NOT NULL,
		PRIMARY KEY (name, id)
	)`,
}

// Migrate creates the projector tables.
func Migrate(ctx context.Context, db DBTX) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
