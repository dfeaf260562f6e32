package finance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestRevenueCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	branch := int64(3)

	_, ok := cache.GetRevenue(ctx, &branch, from, to)
	require.False(t, ok)

	total := decimal.RequireFromString("1234.56")
	cache.SetRevenue(ctx, &branch, from, to, total)

	got, ok := cache.GetRevenue(ctx, &branch, from, to)
	require.True(t, ok)
	require.True(t, total.Equal(got))
}

func TestRevenueCacheInvalidateBranch(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	branch := int64(3)
	other := int64(4)

	cache.SetRevenue(ctx, &branch, from, to, decimal.RequireFromString("100"))
	cache.SetRevenue(ctx, &other, from, to, decimal.RequireFromString("200"))
	cache.SetRevenue(ctx, nil, from, to, decimal.RequireFromString("300"))

	cache.InvalidateBranch(ctx, &branch)

	_, ok := cache.GetRevenue(ctx, &branch, from, to)
	require.False(t, ok)
	// The cross-branch total includes the branch's payments, so it must go too.
	_, ok = cache.GetRevenue(ctx, nil, from, to)
	require.False(t, ok)
	got, ok := cache.GetRevenue(ctx, &other, from, to)
	require.True(t, ok)
	require.Equal(t, "200", got.String())
}

func TestRevenueCacheInvalidateWithoutBranch(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	branch := int64(3)

	cache.SetRevenue(ctx, &branch, from, to, decimal.RequireFromString("100"))
	cache.SetRevenue(ctx, nil, from, to, decimal.RequireFromString("300"))

	cache.InvalidateBranch(ctx, nil)

	_, ok := cache.GetRevenue(ctx, nil, from, to)
	require.False(t, ok)
	_, ok = cache.GetRevenue(ctx, &branch, from, to)
	require.False(t, ok)
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, ok := cache.GetRevenue(ctx, nil, time.Now(), time.Now())
	require.False(t, ok)
	cache.SetRevenue(ctx, nil, time.Now(), time.Now(), decimal.Zero)
	cache.InvalidateBranch(ctx, nil)
}
