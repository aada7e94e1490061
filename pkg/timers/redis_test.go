package timers_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/crmflow/pkg/timers"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *timers.RedisStore {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	store := timers.NewRedisStore(client, "")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestRedisStore_DueReturnsElapsedTimersInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Schedule(ctx, "later", now.Add(time.Hour)))
	require.NoError(t, store.Schedule(ctx, "second", now.Add(-time.Minute)))
	require.NoError(t, store.Schedule(ctx, "first", now.Add(-time.Hour)))
	require.NoError(t, store.Schedule(ctx, "exact", now))

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "exact"}, due)

	due, err = store.Due(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, due)
}

func TestRedisStore_ScheduleReplacesTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Schedule(ctx, "exec-1", now.Add(-time.Minute)))
	require.NoError(t, store.Schedule(ctx, "exec-1", now.Add(time.Minute)))

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.Due(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, due)
}

func TestRedisStore_Remove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Schedule(ctx, "a", now))
	require.NoError(t, store.Schedule(ctx, "b", now))

	require.NoError(t, store.Remove(ctx))
	require.NoError(t, store.Remove(ctx, "a", "missing"))

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, due)
	assert.NoError(t, store.HealthCheck(ctx))
}

func TestOpenRedisStore_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := timers.OpenRedisStore(context.Background(), "not-a-url")
	assert.Error(t, err)
}
