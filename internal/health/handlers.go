package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness flag; the API clears it when shutdown begins.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// ErrRedisDisabled marks a deployment running without Redis.
var ErrRedisDisabled = errors.New("disabled")

// Pinger is satisfied by both store implementations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probes checks the store and, when configured, Redis.
type Probes struct {
	DB    Pinger
	Redis *redis.Client
}

// PingDB implements Checker.
func (p Probes) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return errors.New("store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

// PingRedis implements Checker. A nil client reports ErrRedisDisabled.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return ErrRedisDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	dbStatus := "ok"
	if err := h.Checker.PingDB(ctx, h.dbTimeout()); err != nil {
		dbStatus = err.Error()
	}
	redisStatus := "ok"
	redisOK := true
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
		redisOK = errors.Is(err, ErrRedisDisabled)
	}
	status := map[string]string{
		"db":    dbStatus,
		"redis": redisStatus,
	}
	code := http.StatusOK
	switch {
	case !ready.Load():
		status["server"] = "shutting down"
		code = http.StatusServiceUnavailable
	case dbStatus != "ok" || !redisOK:
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
