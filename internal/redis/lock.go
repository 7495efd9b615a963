package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("payment intent lock not acquired")
)

// Locker serializes webhook processing per payment intent, so that two
// deliveries for the same intent cannot interleave.
type Locker interface {
	WithIntentLock(ctx context.Context, intentID string, fn func(ctx context.Context) error) error
}

type redisIntentLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIntentLocker creates a locker that uses a per intent Redis key
func NewRedisIntentLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisIntentLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisIntentLocker) WithIntentLock(ctx context.Context, intentID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:intent:%s", intentID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire intent lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisIntentLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release intent lock: %w", err)
	}
	return nil
}
