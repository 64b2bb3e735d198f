package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockHeld indicates another worker owns the critical section.
var ErrLockHeld = errors.New("lock held by another worker")

// POReceiptLockKey builds redis keys for purchase order receipt recomputation.
func POReceiptLockKey(poID string) string {
	return fmt.Sprintf("procurement:po:%s:receipt:lock", poID)
}

// Locker serialises critical sections across processes.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker wraps a redis client.
func NewLocker(client redislock.RedisClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(client), ttl: ttl}
}

// WithLock runs fn while holding key. A lock held elsewhere yields ErrLockHeld.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 3),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockHeld
	}
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	return fn(ctx)
}
