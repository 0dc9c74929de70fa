package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/obs"
)

func TestDomainMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("cartsvc", reg)

	obs.ObserveCartMutation("add_item", "ok")
	obs.ObserveCartMutation("add_item", "ok")
	obs.IncStockConflict()
	obs.ObserveCheckout("completed", 12)
	obs.AddCartsAbandoned(3)
	obs.AddCartsAbandoned(0)
	obs.ObserveDomainEvent("cart.completed")

	require.InDelta(t, 2, testutil.ToFloat64(obs.CartMutationsTotal.WithLabelValues("add_item", "ok")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(obs.StockConflictsTotal), 0)
	require.InDelta(t, 1, testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("completed")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(obs.CartsAbandonedTotal), 0)
	require.InDelta(t, 1, testutil.ToFloat64(obs.DomainEventsTotal.WithLabelValues("cart.completed")), 0)
}
