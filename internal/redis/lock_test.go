package redis_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mellow-sync/mellow/internal/redis"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, rueidis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return mr, client
}

func TestTryLock(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	ctx := t.Context()

	acquired, err := redis.TryLock(ctx, client, "lock:server:1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = redis.TryLock(ctx, client, "lock:server:1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	owner, err := mr.Get("lock:server:1")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
	assert.Equal(t, time.Minute, mr.TTL("lock:server:1"))

	require.NoError(t, redis.Unlock(ctx, client, "lock:server:1"))

	acquired, err = redis.TryLock(ctx, client, "lock:server:1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestTryLockExpires(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	ctx := t.Context()

	acquired, err := redis.TryLock(ctx, client, "lock:server:2", "a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(11 * time.Second)

	acquired, err = redis.TryLock(ctx, client, "lock:server:2", "b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}
