package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, 50*time.Millisecond)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "cool-off admits one probe")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerDoIgnoresExpectedErrors(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	miss := errors.New("miss")
	isMiss := func(err error) bool { return errors.Is(err, miss) }

	err := breaker.Do(ctx, func(context.Context) error { return miss }, isMiss)
	require.ErrorIs(t, err, miss)
	require.Equal(t, resilience.Closed, breaker.State())

	boom := errors.New("boom")
	err = breaker.Do(ctx, func(context.Context) error { return boom }, isMiss)
	require.ErrorIs(t, err, boom)
	require.Equal(t, resilience.Open, breaker.State())

	called := false
	err = breaker.Do(ctx, func(context.Context) error { called = true; return nil }, nil)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)
}

func TestNilBreakerAdmitsEverything(t *testing.T) {
	var breaker *resilience.Breaker
	require.True(t, breaker.Allow(context.Background()))
	breaker.Report(context.Background(), false)
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0, 0))
	require.Equal(t, base*2, resilience.Backoff(base, 5, 2, 0))

	d := resilience.Backoff(base, 2, 0, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}

func TestBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	resilience.MustRegisterMetrics("test", reg)

	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("variant_cache")
	ctx := context.Background()
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.Equal(t, 1, testutil.CollectAndCount(reg, "test_breaker_state"))
	require.Equal(t, 1, testutil.CollectAndCount(reg, "test_breaker_transitions_total"))

	require.Eventually(t, func() bool { return breaker.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	breaker.Report(ctx, true)
	require.Equal(t, 3, testutil.CollectAndCount(reg, "test_breaker_transitions_total"))
}
