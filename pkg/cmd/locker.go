package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/flowstate/pkg/lock"
)

// NewLocker builds the instance locker. An empty redisURL selects the
// in-process locker, which is only safe for single-instance deployments.
func NewLocker(redisURL string) (lock.Locker, error) {
	if redisURL == "" {
		return lock.NewMemoryLocker(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return lock.NewRedisLocker(redis.NewClient(opts)), nil
}
