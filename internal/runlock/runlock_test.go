package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	lock := NewRedisLock(client, "affsync", time.Minute)

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:affsync"))

	_, err = NewRedisLock(client, "affsync", time.Minute).Acquire(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:affsync"))

	release, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLock_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	lock := NewRedisLock(client, "affsync", time.Second)

	stale, err := lock.Acquire(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lock.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("lock:affsync"), "new owner keeps the lock")
}

func TestRedisLock_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	_, err := NewRedisLock(client, "affsync", time.Minute).Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}
