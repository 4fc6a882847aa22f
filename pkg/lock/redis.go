package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/flowstate/pkg/models"
)

// releaseScript deletes the key only when the caller still owns it, so a
// holder whose TTL expired cannot release a lock reacquired by someone else.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker is a Redis-backed Locker using SET NX with a TTL. It
// coordinates transitions across multiple engine instances.
type RedisLocker struct {
	client redis.Cmdable
}

// NewRedisLocker creates a new Redis-backed locker.
func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := models.NewID()

	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx %q: %w", key, err)
	}

	if !ok {
		return "", ErrAlreadyLocked
	}

	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	err := l.client.Eval(ctx, releaseScript, []string{lockKey(key)}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}

	return nil
}

func lockKey(key string) string {
	return "flowstate:lock:" + key
}
