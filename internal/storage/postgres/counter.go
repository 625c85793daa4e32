package postgres

import (
	"context"
	"fmt"
)

// Counter implements identity.Generator with an upserted row per kind.
type Counter struct {
	db DBTX
}

// NewCounter creates a Counter.
func NewCounter(db DBTX) *Counter {
	return &Counter{db: db}
}

// Next returns the next sequence number of kind, starting at 1.
func (c *Counter) Next(ctx context.Context, kind string) (int64, error) {
	var v int64
	err := c.db.QueryRow(ctx,
		`INSERT INTO identity_counters (kind, value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET value = identity_counters.value + 1
		RETURNING value`,
		kind).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", kind, err)
	}
	return v, nil
}
