// Package redis implements the identity generator on Redis INCR.
//
// Import Path: readmodel.dev/projector/internal/storage/redis
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces counter keys.
const DefaultKeyPrefix = "projector:identity:"

// Counter implements identity.Generator. INCR is atomic, so concurrent
// processes never receive the same value.
type Counter struct {
	client redis.UniversalClient
	prefix string
}

// NewCounter creates a Counter. An empty prefix uses DefaultKeyPrefix.
func NewCounter(client redis.UniversalClient, prefix string) *Counter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Counter{client: client, prefix: prefix}
}

// Key returns the Redis key holding the sequence of kind.
func (c *Counter) Key(kind string) string {
	return c.prefix + kind
}

// Next returns the next sequence number of kind, starting at 1.
func (c *Counter) Next(ctx context.Context, kind string) (int64, error) {
	v, err := c.client.Incr(ctx, c.Key(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", c.Key(kind), err)
	}
	return v, nil
}
