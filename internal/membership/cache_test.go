package membership

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, loads *int, sirets []string) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := LoaderFunc(func(ctx context.Context, userID string) ([]string, error) {
		*loads++
		return sirets, nil
	})
	return NewCache(client, loader, time.Minute), mr
}

func TestCacheReadThrough(t *testing.T) {
	loads := 0
	cache, _ := newTestCache(t, &loads, []string{"11111111111111"})
	ctx := context.Background()

	got, err := cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"11111111111111"}, got)
	require.Equal(t, 1, loads)

	got, err = cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"11111111111111"}, got)
	require.Equal(t, 1, loads, "second read must hit the cache")
}

func TestCacheInvalidate(t *testing.T) {
	loads := 0
	cache, _ := newTestCache(t, &loads, []string{"11111111111111"})
	ctx := context.Background()

	_, err := cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "user-1"))

	_, err = cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, loads, "invalidation must force a reload")
}

func TestCacheTTLExpiry(t *testing.T) {
	loads := 0
	cache, mr := newTestCache(t, &loads, []string{"11111111111111"})
	ctx := context.Background()

	_, err := cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.SiretsOf(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestActsFor(t *testing.T) {
	loads := 0
	cache, _ := newTestCache(t, &loads, []string{"11111111111111", "22222222222222"})
	ctx := context.Background()

	ok, err := cache.ActsFor(ctx, "user-1", "22222222222222")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.ActsFor(ctx, "user-1", "33333333333333")
	require.NoError(t, err)
	require.False(t, ok)
}
