package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/store"
)

func TestPredicates(t *testing.T) {
	require.True(t, inventory.Available(10, 10))
	require.False(t, inventory.Available(10, 11))
	require.False(t, inventory.Available(10, 0))
	require.False(t, inventory.Available(10, -1))

	require.True(t, inventory.InStock(1))
	require.False(t, inventory.InStock(0))

	require.True(t, inventory.LowStock(5, 5))
	require.False(t, inventory.LowStock(6, 5))
	require.False(t, inventory.LowStock(0, 5))

	require.Equal(t, 3, inventory.Shortfall(2, 5))
	require.Zero(t, inventory.Shortfall(5, 2))
}

func seedVariant(t *testing.T, mem *store.Memory, sku string, stock int32) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := mem.UpsertProductLine(context.Background(), store.UpsertProductLineParams{Code: "tee", Name: "Tee"})
	require.NoError(t, err)
	_, err = mem.CreateVariant(context.Background(), store.CreateVariantParams{
		ID: id, ProductLine: "tee", SKU: sku, Name: sku, PriceCents: 1000, StockQuantity: stock,
	})
	require.NoError(t, err)
	return id
}

func TestReserveRollsBackAllLinesOnShortfall(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a := seedVariant(t, mem, "A", 10)
	b := seedVariant(t, mem, "B", 2)

	guard := inventory.Guard{LowStockThreshold: 5}
	err := mem.InTx(ctx, func(q store.Querier) error {
		_, err := guard.Reserve(ctx, q, []inventory.Line{{VariantID: a, Quantity: 4}, {VariantID: b, Quantity: 3}})
		return err
	})

	var stockErr *inventory.StockError
	require.True(t, errors.As(err, &stockErr))
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, b, stockErr.VariantID)
	require.Equal(t, 2, stockErr.Available)

	va, err := mem.GetVariant(ctx, a)
	require.NoError(t, err)
	require.EqualValues(t, 10, va.StockQuantity)
}

func TestReserveReportsLowStock(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a := seedVariant(t, mem, "A", 10)
	b := seedVariant(t, mem, "B", 20)

	var alerts []inventory.LowStockAlert
	err := mem.InTx(ctx, func(q store.Querier) error {
		var err error
		alerts, err = inventory.Guard{}.Reserve(ctx, q, []inventory.Line{{VariantID: a, Quantity: 6}, {VariantID: b, Quantity: 1}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "A", alerts[0].SKU)
	require.Equal(t, 4, alerts[0].Remaining)
}

func TestReserveUnknownVariant(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	err := mem.InTx(ctx, func(q store.Querier) error {
		_, err := inventory.Guard{}.Reserve(ctx, q, []inventory.Line{{VariantID: uuid.New(), Quantity: 1}})
		return err
	})
	require.ErrorIs(t, err, inventory.ErrVariantNotFound)
}
