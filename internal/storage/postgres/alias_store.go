package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"readmodel.dev/projector/internal/domain"
)

// AliasStore implements identity.AliasStore on the identity_aliases table.
type AliasStore struct {
	db DBTX
}

// NewAliasStore creates an AliasStore.
func NewAliasStore(db DBTX) *AliasStore {
	return &AliasStore{db: db}
}

// Get returns the identity of alias.
func (s *AliasStore) Get(ctx context.Context, kind, alias string) (domain.Identity, bool, error) {
	var id string
	err := s.db.QueryRow(ctx,
		"SELECT identity FROM identity_aliases WHERE kind = $1 AND alias = $2",
		kind, alias).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get alias %s/%s: %w", kind, alias, err)
	}
	return domain.Identity(id), true, nil
}

// InsertIfAbsent inserts alias -> id unless the alias exists, then returns
// the owner of the alias.
func (s *AliasStore) InsertIfAbsent(ctx context.Context, kind, alias string, id domain.Identity) (bool, domain.Identity, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO identity_aliases (kind, alias, identity) VALUES ($1, $2, $3)
		ON CONFLICT (kind, alias) DO NOTHING`,
		kind, alias, id.String())
	if err != nil {
		return false, "", fmt.Errorf("insert alias %s/%s: %w", kind, alias, err)
	}
	if tag.RowsAffected() == 1 {
		return true, id, nil
	}

	winner, found, err := s.Get(ctx, kind, alias)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "", fmt.Errorf("alias %s/%s conflicted but is missing", kind, alias)
	}
	return false, winner, nil
}

// GetAlias returns the alias of id.
func (s *AliasStore) GetAlias(ctx context.Context, kind string, id domain.Identity) (string, bool, error) {
	var alias string
	err := s.db.QueryRow(ctx,
		"SELECT alias FROM identity_aliases WHERE kind = $1 AND identity = $2",
		kind, id.String()).Scan(&alias)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get alias of %s: %w", id, err)
	}
	return alias, true, nil
}

// GetMany returns aliases for the identities that have one.
func (s *AliasStore) GetMany(ctx context.Context, kind string, ids []domain.Identity) (map[domain.Identity]string, error) {
	out := make(map[domain.Identity]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := s.db.Query(ctx,
		"SELECT identity, alias FROM identity_aliases WHERE kind = $1 AND identity = ANY($2)",
		kind, keys)
	if err != nil {
		return nil, fmt.Errorf("get aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out[domain.Identity(id)] = alias
	}
	return out, rows.Err()
}
