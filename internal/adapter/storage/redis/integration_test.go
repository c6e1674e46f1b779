//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newContainerClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestIntegration_RedisStores(t *testing.T) {
	client := newContainerClient(t)
	ctx := context.Background()

	cache := NewIdempotencyCache(client)
	require.NoError(t, cache.Set(ctx, refKey, []byte(`{"seq":1}`), time.Minute))
	got, err := cache.Get(ctx, refKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1}`, string(got))

	limiter := NewRateLimitStore(client)
	first, err := limiter.Allow(ctx, "it:write", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := limiter.Allow(ctx, "it:write", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}
