// Package ratelimit throttles mutating cart routes per owner with ulule/limiter.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/atomic-shop/internal/common"
)

// DefaultRate allows 120 requests per minute.
const DefaultRate = "120-M"

// New builds a limiter for a formatted rate such as "120-M". A nil client
// keeps counters in process memory.
func New(rate string, client *redis.Client, prefix string) (*limiter.Limiter, error) {
	if rate == "" {
		rate = DefaultRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}
	var store limiter.Store
	if client == nil {
		store = memory.NewStoreWithOptions(opts)
	} else {
		store, err = limiterredis.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	}
	return limiter.New(store, parsed), nil
}

// OwnerKey keys requests by user, then cart session, then client IP.
func OwnerKey(r *http.Request) string {
	if id, ok := common.UserID(r.Context()); ok {
		return "user:" + id
	}
	if token, ok := common.SessionToken(r.Context()); ok {
		return "session:" + common.RedactToken(token, 16)
	}
	return "ip:" + common.ClientIP(r)
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter *limiter.Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface. Limiter
// failures let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil {
		return next
	}
	keyFn := h.Key
	if keyFn == nil {
		keyFn = OwnerKey
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lctx, err := h.Limiter.Get(r.Context(), keyFn(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retryAfter := lctx.Reset - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
