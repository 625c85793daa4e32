package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/readmodel"
)

// Collection implements readmodel.Collection on the readmodels table.
type Collection struct {
	db DBTX
}

// NewCollection creates a Collection.
func NewCollection(db DBTX) *Collection {
	return &Collection{db: db}
}

// Load returns the record of id in readModel.
func (c *Collection) Load(ctx context.Context, readModel string, id domain.Identity) (readmodel.Record, bool, error) {
	var (
		rec      readmodel.Record
		rid      string
		pos      int64
		rawState []byte
	)
	err := c.db.QueryRow(ctx,
		`SELECT id, projected_position, aggregate_version, created_by, created_at,
			modified_by, modified_at, state
		FROM readmodels WHERE name = $1 AND id = $2`,
		readModel, id.String()).Scan(&rid, &pos, &rec.AggregateVersion, &rec.CreatedBy,
		&rec.CreatedAt, &rec.ModifiedBy, &rec.ModifiedAt, &rawState)
	if errors.Is(err, pgx.ErrNoRows) {
		return readmodel.Record{}, false, nil
	}
	if err != nil {
		return readmodel.Record{}, false, fmt.Errorf("load %s/%s: %w", readModel, id, err)
	}
	rec.ID = domain.Identity(rid)
	rec.ProjectedPosition = domain.Position(pos)
	rec.State = rawState
	return rec, true, nil
}

// Save upserts rec unless the stored record is at or past its position.
func (c *Collection) Save(ctx context.Context, readModel string, rec readmodel.Record) error {
	state := []byte(rec.State)
	if len(state) == 0 {
		state = []byte("null")
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO readmodels (name, id, projected_position, aggregate_version, created_by,
			created_at, modified_by, modified_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name, id) DO UPDATE SET
			projected_position = EXCLUDED.projected_position,
			aggregate_version  = EXCLUDED.aggregate_version,
			modified_by        = EXCLUDED.modified_by,
			modified_at        = EXCLUDED.modified_at,
			state              = EXCLUDED.state
		WHERE readmodels.projected_position < EXCLUDED.projected_position`,
		readModel, rec.ID.String(), int64(rec.ProjectedPosition), rec.AggregateVersion,
		rec.CreatedBy, rec.CreatedAt, rec.ModifiedBy, rec.ModifiedAt, state)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", readModel, rec.ID, err)
	}
	return nil
}

// Purge deletes every record of readModel.
func (c *Collection) Purge(ctx context.Context, readModel string) error {
	if _, err := c.db.Exec(ctx, "DELETE FROM readmodels WHERE name = $1", readModel); err != nil {
		return fmt.Errorf("purge %s: %w", readModel, err)
	}
	return nil
}
