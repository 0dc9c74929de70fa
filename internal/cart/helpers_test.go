package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/cart"
	"github.com/noah-isme/atomic-shop/internal/discount"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/shipping"
	"github.com/noah-isme/atomic-shop/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	mem   *store.Memory
	svc   *cart.Service
	clock *clock
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mem := store.NewMemory()
	_, err := mem.UpsertProductLine(context.Background(), store.UpsertProductLineParams{Code: "tee", Name: "T-Shirt"})
	require.NoError(t, err)
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	svc := &cart.Service{
		Store: mem,
		Pricing: pricing.Calculator{
			Rules:                 discount.DefaultRules(5, 10, discount.StandardTiers()),
			TaxRate:               pricing.DefaultTaxRate,
			FreeShippingThreshold: 5000,
			Now:                   clk.Now,
		},
		Validator:    cart.Validator{MaxTotalItems: 50, MaxLineItems: 20},
		Shipping:     &shipping.Service{Q: mem},
		Now:          clk.Now,
		AbandonAfter: 24 * time.Hour,
	}
	return harness{mem: mem, svc: svc, clock: clk}
}

func (h harness) variant(t *testing.T, sku string, price int64, stock int32) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := h.mem.CreateVariant(context.Background(), store.CreateVariantParams{
		ID: id, ProductLine: "tee", SKU: sku, Name: sku, PriceCents: price, StockQuantity: stock,
		WeightKg: pgtype.Float8{},
	})
	require.NoError(t, err)
	return id
}

func guest() cart.Owner { return cart.SessionOwner(uuid.NewString()) }
