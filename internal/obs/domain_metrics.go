package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// StockConflictsTotal counts requests rejected because stock ran out.
	StockConflictsTotal prometheus.Counter
	// CheckoutTotal counts checkout attempts by outcome.
	CheckoutTotal *prometheus.CounterVec
	// CheckoutLatency records checkout duration in milliseconds.
	CheckoutLatency prometheus.Histogram
	// CartsAbandonedTotal counts carts moved to abandoned by the sweep.
	CartsAbandonedTotal prometheus.Counter
	// DomainEventsTotal counts emitted domain events by topic.
	DomainEventsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by operation and result.",
		}, []string{"op", "result"})
		StockConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Number of cart or checkout requests rejected for insufficient stock.",
		})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by result.",
		}, []string{"result"})
		CheckoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_ms",
			Help:      "Checkout latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		})
		CartsAbandonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carts_abandoned_total",
			Help:      "Number of carts marked abandoned by the inactivity sweep.",
		})
		DomainEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Count of emitted domain events by topic.",
		}, []string{"topic"})

		mustRegisterCollector(reg, CartMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, StockConflictsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				StockConflictsTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CheckoutLatency = v
			}
		})
		mustRegisterCollector(reg, CartsAbandonedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CartsAbandonedTotal = v
			}
		})
		mustRegisterCollector(reg, DomainEventsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DomainEventsTotal = v
			}
		})
	})
}

// The helpers below are no-ops until MustRegisterDomainMetrics has run.

// ObserveCartMutation records one cart mutation outcome.
func ObserveCartMutation(op, result string) {
	if CartMutationsTotal != nil {
		CartMutationsTotal.WithLabelValues(op, result).Inc()
	}
}

// IncStockConflict records one insufficient-stock rejection.
func IncStockConflict() {
	if StockConflictsTotal != nil {
		StockConflictsTotal.Inc()
	}
}

// ObserveCheckout records a checkout outcome and its latency.
func ObserveCheckout(result string, ms float64) {
	if CheckoutTotal != nil {
		CheckoutTotal.WithLabelValues(result).Inc()
	}
	if CheckoutLatency != nil {
		CheckoutLatency.Observe(ms)
	}
}

// AddCartsAbandoned records carts moved to abandoned.
func AddCartsAbandoned(n int) {
	if CartsAbandonedTotal != nil && n > 0 {
		CartsAbandonedTotal.Add(float64(n))
	}
}

// ObserveDomainEvent records one emitted event.
func ObserveDomainEvent(topic string) {
	if DomainEventsTotal != nil {
		DomainEventsTotal.WithLabelValues(topic).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
