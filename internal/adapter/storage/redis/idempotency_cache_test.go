package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refKey = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed:transfer-001"

func newCache(t *testing.T) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyCache(client), s
}

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()
	value := []byte(`{"seq":4,"type":"TRANSFER"}`)

	result, err := cache.Get(ctx, refKey)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, refKey, value, 24*time.Hour))

	result, err = cache.Get(ctx, refKey)
	require.NoError(t, err)
	assert.Equal(t, value, result)
	assert.True(t, s.Exists("ccl:ref:"+refKey), "key should be namespaced")
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, refKey, []byte(`{}`), time.Second))
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, refKey)
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_Unavailable(t *testing.T) {
	cache, s := newCache(t)
	s.Close()

	_, err := cache.Get(context.Background(), refKey)
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), refKey, []byte(`{}`), time.Minute))
}

func TestNoopIdempotencyCache(t *testing.T) {
	var cache NoopIdempotencyCache
	require.NoError(t, cache.Set(context.Background(), refKey, []byte(`{}`), time.Minute))
	v, err := cache.Get(context.Background(), refKey)
	assert.NoError(t, err)
	assert.Nil(t, v)
}
