package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/atomic-shop/internal/resilience"
)

// Cache stores variant views in Redis as JSON. Calls go through an optional
// breaker; while it is open the cache behaves as empty.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *resilience.Breaker
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// WithBreaker guards Redis calls with b.
func (c *Cache) WithBreaker(b *resilience.Breaker) *Cache {
	c.breaker = b
	return c
}

func variantCacheKey(id string) string {
	return "catalog:variant:" + id
}

func isMiss(err error) bool { return errors.Is(err, redis.Nil) }

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	var data []byte
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		return err
	}, isMiss)
	switch {
	case err == nil:
	case isMiss(err), errors.Is(err, resilience.ErrOpenCircuit):
		return false, nil
	default:
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	}, nil)
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return nil
	}
	return err
}

// Delete drops cached keys. Deletes bypass the breaker: a stale stock level
// must not outlive its TTL because the breaker happened to be open.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
