package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRequestGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	guard := NewRedisRequestGuard(client, "")
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "p-1", "d-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("rider:ride-request:p-1:d-1"))

	ok, err = guard.Acquire(ctx, "p-1", "d-1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = guard.Acquire(ctx, "p-1", "d-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, guard.Release(ctx, "p-1", "d-1"))
	ok, err = guard.Acquire(ctx, "p-1", "d-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = guard.Acquire(ctx, "p-1", "d-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryRequestGuard(t *testing.T) {
	guard := NewMemoryRequestGuard()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := guard.Acquire(ctx, "p-1", "d-1", 30*time.Second)
	require.True(t, ok)
	ok, _ = guard.Acquire(ctx, "p-1", "d-1", 30*time.Second)
	require.False(t, ok)

	now = now.Add(31 * time.Second)
	ok, _ = guard.Acquire(ctx, "p-1", "d-1", 30*time.Second)
	require.True(t, ok)

	require.NoError(t, guard.Release(ctx, "p-1", "d-1"))
	ok, _ = guard.Acquire(ctx, "p-1", "d-1", 30*time.Second)
	require.True(t, ok)
}

func TestMemoryRequestGuardDropsExpiredEntries(t *testing.T) {
	guard := NewMemoryRequestGuard()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	for _, driver := range []string{"d-1", "d-2", "d-3"} {
		ok, _ := guard.Acquire(ctx, "p-1", driver, 30*time.Second)
		require.True(t, ok)
	}
	require.Len(t, guard.expires, 3)

	now = now.Add(time.Minute)
	ok, _ := guard.Acquire(ctx, "p-1", "d-4", 30*time.Second)
	require.True(t, ok)
	require.Len(t, guard.expires, 1)
}
