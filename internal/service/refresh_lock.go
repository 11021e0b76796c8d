package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/step-sync-service/pkg/database"
	"github.com/redis/go-redis/v9"
)

const refreshLockPollInterval = 50 * time.Millisecond

// ErrLockTimeout is returned when the refresh lock could not be taken before the context ended
var ErrLockTimeout = errors.New("timed out waiting for refresh lock")

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RefreshLock is a per-user Redis lock around the token refresh POST
type RefreshLock struct {
	redis *database.Redis
	ttl   time.Duration
}

// NewRefreshLock creates a new refresh lock
func NewRefreshLock(redis *database.Redis, ttl time.Duration) *RefreshLock {
	return &RefreshLock{redis: redis, ttl: ttl}
}

func refreshLockKey(userID string) string {
	return fmt.Sprintf("lock:refresh:%s", userID)
}

// Acquire takes the lock for userID, polling until it is free or ctx ends.
// The lock expires after ttl if the holder dies.
func (l *RefreshLock) Acquire(ctx context.Context, userID string) (func(context.Context) error, error) {
	key := refreshLockKey(userID)
	token := uuid.New().String()

	ticker := time.NewTicker(refreshLockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.redis.Client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.redis.Client, []string{key}, token).Err(); err != nil {
					return fmt.Errorf("failed to release refresh lock: %w", err)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
