package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCounter_Key(t *testing.T) {
	assert.Equal(t, "projector:identity:Doc", NewCounter(nil, "").Key("Doc"))
	assert.Equal(t, "x:Doc", NewCounter(nil, "x:").Key("Doc"))
}

// TestCounter_Integration requires a running Redis at REDIS_ADDR.
func TestCounter_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	c := NewCounter(client, "test:"+uuid.NewString()+":")
	t.Cleanup(func() { _ = client.Del(ctx, c.Key("Doc")).Err() })

	const n = 20
	seen := make([]int64, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			v, err := c.Next(ctx, "Doc")
			seen[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())

	unique := make(map[int64]bool, n)
	for _, v := range seen {
		unique[v] = true
	}
	assert.Len(t, unique, n)
	for v := int64(1); v <= n; v++ {
		assert.True(t, unique[v], "missing %d", v)
	}
}
