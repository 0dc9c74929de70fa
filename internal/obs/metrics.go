package obs

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultHTTPBuckets are the request latency buckets in milliseconds used when
// OBS_HTTP_BUCKETS_MS is unset. Cart reads sit in the low buckets and
// checkout, which holds a lock and a transaction, in the upper ones.
var DefaultHTTPBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// HTTPMetrics are the per-route request collectors for the cart API.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers the request collectors on reg, reusing any that a
// previous call already registered.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = DefaultHTTPBuckets
	}
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Cart API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "Cart API request latency in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Cart API requests currently being served.",
		}),
	}
	mustRegisterCollector(reg, m.Requests, func(c prometheus.Collector) {
		if existing, ok := c.(*prometheus.CounterVec); ok {
			m.Requests = existing
		}
	})
	mustRegisterCollector(reg, m.Latency, func(c prometheus.Collector) {
		if existing, ok := c.(*prometheus.HistogramVec); ok {
			m.Latency = existing
		}
	})
	mustRegisterCollector(reg, m.InFlight, func(c prometheus.Collector) {
		if existing, ok := c.(prometheus.Gauge); ok {
			m.InFlight = existing
		}
	})
	return m
}

// observe records one finished request.
func (m *HTTPMetrics) observe(method, route string, status int, elapsed time.Duration) {
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.Latency.WithLabelValues(method, route).Observe(DurationMillis(elapsed))
}

// ParseBucketsCSV reads latency bucket bounds such as "5,25,100" in
// milliseconds. The result is sorted and deduplicated. A blank value yields
// nil so callers fall back to DefaultHTTPBuckets.
func ParseBucketsCSV(csv string) ([]float64, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("obs: invalid histogram bucket %q", part)
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
