package common

import (
	"context"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Key scopes the client key to the method, path and cart owner so two shoppers
// reusing the same header value never collide.
func (i Idem) Key(r *http.Request, header string) string {
	owner, _ := UserID(r.Context())
	if owner == "" {
		owner, _ = SessionToken(r.Context())
	}
	return "idem:" + Fingerprint(r.Method, r.URL.Path, owner, header)
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.Key(r, header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.ttl()).Result()
		if err != nil {
			WriteError(w, Internal(err))
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		failed := true
		defer func() {
			// a failed attempt may be retried with the same key
			if failed {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
		failed = rec.status >= http.StatusInternalServerError
	})
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
