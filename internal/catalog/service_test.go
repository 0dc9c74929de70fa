package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/store"
)

type fixture struct {
	mem   *store.Memory
	svc   *catalog.Service
	redis *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := store.NewMemory()
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Queries: mem,
		Cache:   catalog.NewCache(client, time.Minute),
	})
	require.NoError(t, err)
	_, err = svc.UpsertProductLine(context.Background(), "tee", "T-Shirt", teeSchema())
	require.NoError(t, err)
	return fixture{mem: mem, svc: svc, redis: mr}
}

func TestCreateVariantValidatesOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateVariant(ctx, catalog.NewVariant{
		ProductLine: "tee", SKU: "TEE-XXL", Name: "Tee", PriceCents: 1500, StockQuantity: 3,
		Options: catalog.Options{{Name: "size", Value: "XXL"}},
	})
	require.ErrorIs(t, err, catalog.ErrInvalidOptions)

	_, err = f.svc.CreateVariant(ctx, catalog.NewVariant{ProductLine: "mug", SKU: "MUG", Name: "Mug"})
	require.ErrorIs(t, err, catalog.ErrProductLineNotFound)

	weight := 0.2
	v, err := f.svc.CreateVariant(ctx, catalog.NewVariant{
		ProductLine: "tee", SKU: "TEE-M-RED", Name: "Tee", PriceCents: 1500, StockQuantity: 3, WeightKg: &weight,
		Options: catalog.Options{{Name: "color", Value: "Red"}, {Name: "size", Value: "M"}},
	})
	require.NoError(t, err)
	require.Equal(t, "$15.00", v.FormattedPrice)
	require.True(t, v.LowStock)
	require.Equal(t, "size", v.Options[0].Name)
}

func TestGetVariantServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateVariant(ctx, catalog.NewVariant{
		ProductLine: "tee", SKU: "TEE-S", Name: "Tee", PriceCents: 1000, StockQuantity: 10,
		Options: catalog.Options{{Name: "size", Value: "S"}},
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	first, err := f.svc.GetVariant(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, first.StockQuantity)
	require.True(t, f.redis.Exists("catalog:variant:"+created.ID))

	err = f.mem.InTx(ctx, func(q store.Querier) error {
		_, err := q.DecrementStock(ctx, store.StockChangeParams{ID: id, Quantity: 4})
		return err
	})
	require.NoError(t, err)

	cached, err := f.svc.GetVariant(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, cached.StockQuantity)

	f.svc.Invalidate(ctx, id)
	fresh, err := f.svc.GetVariant(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 6, fresh.StockQuantity)
}

func TestVariantHandler(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateVariant(context.Background(), catalog.NewVariant{
		ProductLine: "tee", SKU: "TEE-L", Name: "Tee", PriceCents: 1999, StockQuantity: 0,
		Options: catalog.Options{{Name: "size", Value: "L"}},
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/api/v1/variants/{id}", catalog.NewHandler(catalog.HandlerConfig{Service: f.svc}).Variant)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/variants/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data catalog.Variant `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "TEE-L", body.Data.SKU)
	require.False(t, body.Data.InStock)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/variants/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/variants/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
