package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by Acquire when another run holds the lock.
var ErrLocked = errors.New("runlock: another run holds the lock")

// ReleaseFunc gives the lock back. Calling it after the lock expired or was
// taken over by someone else is a no-op.
type ReleaseFunc func(ctx context.Context) error

// Locker serializes pipeline runs that write the same fact table.
type Locker interface {
	Acquire(ctx context.Context) (ReleaseFunc, error)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX lock with a TTL so a crashed run cannot hold it forever.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: "lock:" + key, ttl: ttl}
}

func (l *RedisLock) Key() string { return l.key }

func (l *RedisLock) Acquire(ctx context.Context) (ReleaseFunc, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}

// Noop never blocks. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}
