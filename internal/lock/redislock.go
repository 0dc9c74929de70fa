// Package lock serializes work per key: across processes through Redis, or
// within one process when no Redis is configured.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/atomic-shop/internal/resilience"
)

var (
	// ErrNotConfigured is returned by a Locker without a Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	// ErrNotAcquired wraps the context error when the caller gave up waiting
	// for a held key.
	ErrNotAcquired = errors.New("lock: not acquired")
)

const defaultTTL = 30 * time.Second

// Locker provides a Redis-backed distributed lock. Contended acquisitions
// retry with jittered exponential backoff starting at RetryBackoff.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released automatically even if fn returns an error. When the context ends
// before the lock is acquired the error wraps both ErrNotAcquired and
// ctx.Err().
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	key = l.Prefix + key
	token := uuid.NewString()
	for attempt := 1; ; attempt++ {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return notAcquired(ctxErr)
			}
			return err
		}
		if ok {
			defer l.release(context.Background(), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(resilience.Backoff(l.RetryBackoff, attempt, 4, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return notAcquired(ctx.Err())
		case <-timer.C:
		}
	}
}

func notAcquired(ctxErr error) error {
	return fmt.Errorf("%w: %w", ErrNotAcquired, ctxErr)
}

func (l Locker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}

// Local is an in-process keyed mutex with the same contract as Locker.
// The ttl is ignored; the lock is held until fn returns.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// WithLock runs fn once no other caller holds key.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return notAcquired(ctx.Err())
	}
	defer func() { <-ch }()
	return fn(ctx)
}
