package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"readmodel.dev/projector/internal/domain"
)

// CheckpointStore implements checkpoint.Store on projection_checkpoints.
type CheckpointStore struct {
	db DBTX
}

// NewCheckpointStore creates a CheckpointStore.
func NewCheckpointStore(db DBTX) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns the checkpoint of slot.
func (s *CheckpointStore) Get(ctx context.Context, slot string) (domain.Position, bool, error) {
	var pos int64
	err := s.db.QueryRow(ctx,
		"SELECT position FROM projection_checkpoints WHERE slot = $1", slot).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Genesis, false, nil
	}
	if err != nil {
		return domain.Genesis, false, fmt.Errorf("get checkpoint %s: %w", slot, err)
	}
	return domain.Position(pos), true, nil
}

// Set stores pos unless the stored checkpoint is already at or past it.
func (s *CheckpointStore) Set(ctx context.Context, slot string, pos domain.Position) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO projection_checkpoints (slot, position, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (slot) DO UPDATE SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at
		WHERE projection_checkpoints.position < EXCLUDED.position`,
		slot, int64(pos))
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", slot, err)
	}
	return nil
}

// Reset deletes the checkpoint of slot.
func (s *CheckpointStore) Reset(ctx context.Context, slot string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM projection_checkpoints WHERE slot = $1", slot); err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", slot, err)
	}
	return nil
}

// List returns every stored checkpoint.
func (s *CheckpointStore) List(ctx context.Context) (map[string]domain.Position, error) {
	rows, err := s.db.Query(ctx, "SELECT slot, position FROM projection_checkpoints")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]domain.Position)
	for rows.Next() {
		var slot string
		var pos int64
		if err := rows.Scan(&slot, &pos); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out[slot] = domain.Position(pos)
	}
	return out, rows.Err()
}
