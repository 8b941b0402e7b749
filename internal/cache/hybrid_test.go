package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedThing struct {
	Name  string  `json:"name"`
	Spend float64 `json:"spend"`
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHybridCacheLocalOnly(t *testing.T) {
	c := NewHybridCache(10, time.Minute, nil)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", cachedThing{Name: "alpha", Spend: 1.5}, 0)

	var got cachedThing
	require.True(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 1.5, got.Spend)

	c.Delete(ctx, "k")
	assert.False(t, c.Get(ctx, "k", &got))
}

func TestHybridCacheRemoteWriteBack(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	writer := NewHybridCache(10, time.Minute, client)
	require.NoError(t, writer.Open(ctx))
	writer.Set(ctx, "shared", cachedThing{Name: "beta", Spend: 2.0}, 0)

	// A second cache sharing the same Redis sees the value and decodes the
	// same result a local hit would.
	reader := NewHybridCache(10, time.Minute, client)
	require.NoError(t, reader.Open(ctx))

	var first cachedThing
	require.True(t, reader.Get(ctx, "shared", &first), "remote tier should serve the miss")

	var second cachedThing
	require.True(t, reader.Get(ctx, "shared", &second), "local tier should serve after write-back")
	assert.Equal(t, first, second)
}

func TestHybridCacheRemoteFailureIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	c := NewHybridCache(10, time.Minute, client)
	require.NoError(t, c.Open(ctx))
	c.Set(ctx, "k", cachedThing{Name: "gamma"}, 0)

	// Drop the local tier and kill Redis; the lookup must degrade to a
	// miss, never an error.
	c.local.Clear()
	mr.Close()

	var got cachedThing
	assert.False(t, c.Get(ctx, "k", &got))
}

func TestHybridCacheDeleteBothTiers(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	c := NewHybridCache(10, time.Minute, client)
	require.NoError(t, c.Open(ctx))

	c.Set(ctx, "k", cachedThing{Name: "delta"}, 0)
	c.Delete(ctx, "k")

	var got cachedThing
	assert.False(t, c.Get(ctx, "k", &got))

	// Fresh cache over the same Redis must not resurrect the value.
	fresh := NewHybridCache(10, time.Minute, client)
	require.NoError(t, fresh.Open(ctx))
	assert.False(t, fresh.Get(ctx, "k", &got))
}
