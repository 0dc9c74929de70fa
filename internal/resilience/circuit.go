// Package resilience guards optional infrastructure (the Redis cache and
// lock) so a failing dependency degrades the service instead of stalling it.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker opens once the failure ratio over at least minRequests calls
// reaches failureRatio, then lets a single probe through after openFor.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	probing      bool
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	target       string
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewBreaker builds a closed breaker. Non-positive arguments fall back to
// 5 requests, a 0.5 ratio and a 30s cool-off.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 5
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{minRequests: minRequests, failureRatio: failureRatio, openFor: openFor, now: time.Now}
}

// WithTarget names the guarded dependency for metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.recordStateLocked()
	return b
}

// WithLogger sets the logger used for state transitions.
func (b *Breaker) WithLogger(logger *zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. While half-open only one probe
// is admitted at a time.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.changeStateLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.changeStateLocked(ctx, Closed)
		} else {
			b.changeStateLocked(ctx, Open)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.failures + b.successes
	if total < b.minRequests {
		return
	}
	if float64(b.failures)/float64(total) >= b.failureRatio {
		b.changeStateLocked(ctx, Open)
		return
	}
	if total > b.minRequests*2 {
		// halve the window so old successes do not mask a new outage
		b.successes = (b.successes + 1) / 2
		b.failures = (b.failures + 1) / 2
	}
}

// Do runs fn when the breaker admits it and reports its outcome. Errors for
// which ignore returns true count as successes (e.g. a cache miss).
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error, ignore func(error) bool) error {
	if !b.Allow(ctx) {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	b.Report(ctx, err == nil || (ignore != nil && ignore(err)))
	return err
}

// Backoff returns base doubled per attempt, capped at maxAttempt doublings,
// with +/- jitterPct randomisation.
func Backoff(base time.Duration, attempt, maxAttempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	if maxAttempt > 0 && attempt > maxAttempt {
		attempt = maxAttempt
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.failures, b.successes = 0, 0
	b.recordStateLocked()
	if breakerTransitions != nil {
		breakerTransitions.WithLabelValues(b.targetLabel(), prev.String(), next.String()).Inc()
	}
	if b.logger == nil {
		return
	}
	evt := b.logger.Warn().Str("target", b.targetLabel()).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker transition")
}

func (b *Breaker) recordStateLocked() {
	if breakerState == nil {
		return
	}
	breakerState.WithLabelValues(b.targetLabel()).Set(float64(b.state))
}

func (b *Breaker) targetLabel() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
