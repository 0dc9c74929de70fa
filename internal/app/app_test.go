package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/app"
	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/config"
	"github.com/noah-isme/atomic-shop/internal/lock"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newApp(t *testing.T, env map[string]string) *app.App {
	t.Helper()
	base := map[string]string{"DATABASE_URL": "memory://", "REDIS_URL": ""}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadForTests(base)
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func seed(t *testing.T, a *app.App, sku string, price int64, stock int) string {
	t.Helper()
	ctx := context.Background()
	_, err := a.Catalog.UpsertProductLine(ctx, "tee", "T-Shirt", catalog.OptionSchema{
		{Name: "size", Values: []string{"S", "M", "L"}, Required: true},
	})
	require.NoError(t, err)
	v, err := a.Catalog.CreateVariant(ctx, catalog.NewVariant{
		ProductLine:   "tee",
		SKU:           sku,
		Name:          "Tee " + sku,
		PriceCents:    price,
		StockQuantity: stock,
		Options:       catalog.Options{{Name: "size", Value: "M"}},
	})
	require.NoError(t, err)
	return v.ID
}

func call(t *testing.T, h http.Handler, method, path, session string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("X-Cart-Session", session)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := app.New(context.Background(), nil, zerolog.Nop())
	require.Error(t, err)
}

func TestMemoryStoreUsesLocalLocks(t *testing.T) {
	a := newApp(t, nil)
	require.Nil(t, a.Redis)
	require.Nil(t, a.Tasks)
	require.IsType(t, &lock.Local{}, a.Checkout.Locker)
	require.NotNil(t, a.Limiter)
}

func TestRedisWiresTasksAndLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, map[string]string{"REDIS_URL": "redis://" + mr.Addr()})
	require.NotNil(t, a.Redis)
	require.NotNil(t, a.Tasks)
	require.NotNil(t, a.Events.Scheduler)
	require.IsType(t, lock.Locker{}, a.Checkout.Locker)
}

func TestRouterCartToCheckout(t *testing.T) {
	a := newApp(t, nil)
	id := seed(t, a, "TEE-M", 2000, 3)
	h := a.Router(app.RouterOptions{})
	session := "session-app-test"

	rec, _ := call(t, h, http.MethodGet, "/api/v1/variants/"+id, session, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(t, h, http.MethodPost, "/api/v1/cart/items", session, map[string]any{
		"product_variant_id": id,
		"quantity":           1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, session, rec.Header().Get("X-Cart-Session"))

	rec, env := call(t, h, http.MethodPost, "/api/v1/cart/checkout", session, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order struct {
		OrderID string `json:"orderId"`
		Totals  struct {
			Total int64 `json:"totalCents"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	require.NotEmpty(t, order.OrderID)
	require.Equal(t, int64(2175), order.Totals.Total)

	rec, _ = call(t, h, http.MethodGet, "/api/v1/orders/"+order.OrderID, session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = call(t, h, http.MethodGet, "/api/v1/orders/"+order.OrderID, "someone-else", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	variant, err := a.Catalog.GetVariant(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	require.Equal(t, 2, variant.StockQuantity)
}

func TestRouterHealthAndMethods(t *testing.T) {
	a := newApp(t, nil)
	h := a.Router(app.RouterOptions{})

	rec, _ := call(t, h, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = call(t, h, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := call(t, h, http.MethodGet, "/api/v1/shipping/methods", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Methods []struct {
			Code string `json:"code"`
		} `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Methods, 3)
	require.NotEmpty(t, rec.Header().Get("X-Cart-Session"))
}
