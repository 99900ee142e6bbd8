package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained signals another worker holds the critical section.
var ErrLockNotObtained = errors.New("lock held by another process")

// SettlementLockKey builds redis keys for per-salesman settlement sections.
func SettlementLockKey(salesmanID int64) string {
	return fmt.Sprintf("ledger:salesman:%d:settlement:lock", salesmanID)
}

// RedisLocker hands out short-lived distributed locks.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
}

// NewRedisLocker wraps a redis client with redislock.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, retries: 10}
}

// Lock obtains key or fails with ErrLockNotObtained after bounded retries.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), l.retries),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
