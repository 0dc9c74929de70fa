package catalog_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/resilience"
)

func TestCacheBreakerDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	breaker := resilience.NewBreaker(3, 0.5, time.Minute)
	cache := catalog.NewCache(client, time.Minute).WithBreaker(breaker)
	ctx := context.Background()

	var dst map[string]string
	ok, err := cache.GetJSON(ctx, "k", &dst)
	require.NoError(t, err)
	require.False(t, ok)

	mr.SetError("LOADING")
	for i := 0; i < 2; i++ {
		_, err = cache.GetJSON(ctx, "k", &dst)
		require.Error(t, err)
	}
	require.Equal(t, resilience.Open, breaker.State())

	ok, err = cache.GetJSON(ctx, "k", &dst)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.SetJSON(ctx, "k", map[string]string{"a": "b"}))
}

func TestNilCacheIsDisabled(t *testing.T) {
	var cache *catalog.Cache
	ok, err := cache.GetJSON(context.Background(), "k", &struct{}{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.SetJSON(context.Background(), "k", 1))
	require.NoError(t, cache.Delete(context.Background(), "k"))
}
