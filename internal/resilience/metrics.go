package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
)

// MustRegisterMetrics registers the breaker collectors. A nil registerer uses
// the default one; collectors already registered are reused.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Breaker state transitions.",
	}, []string{"target", "from", "to"})

	breakerState = register(reg, state)
	breakerTransitions = register(reg, transitions)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
