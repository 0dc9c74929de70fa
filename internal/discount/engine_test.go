package discount_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/discount"
	"github.com/noah-isme/atomic-shop/internal/money"
)

func requireConsistent(t *testing.T, r discount.Result) {
	t.Helper()
	require.GreaterOrEqual(t, r.Discount, money.Cents(0))
	require.LessOrEqual(t, r.Discount, r.Original)
	require.GreaterOrEqual(t, r.Final, money.Cents(0))
	require.Equal(t, r.Original, r.Final+r.Discount)
	require.Equal(t, r.Discount, r.Savings)
}

func TestPercentageConservesAmount(t *testing.T) {
	t.Parallel()

	for _, amount := range []money.Cents{0, 1, 7, 99, 1000, 4999, 123457} {
		for _, pct := range []float64{0, 0.5, 5, 12.5, 33.33, 50, 99.99, 100} {
			r := discount.Percentage(amount, pct)
			requireConsistent(t, r)
			if amount > 0 && pct > 0 {
				require.Equal(t, amount, r.Final+r.Discount)
			}
		}
	}
}

func TestPercentageRoundsHalfUp(t *testing.T) {
	t.Parallel()

	r := discount.Percentage(15, 50)
	require.Equal(t, discount.KindPercentage, r.Kind)
	require.Equal(t, money.Cents(8), r.Discount)
	require.Equal(t, money.Cents(7), r.Final)
}

func TestPercentageCapsAndRejects(t *testing.T) {
	t.Parallel()

	capped := discount.Percentage(1000, 150)
	require.Equal(t, money.Cents(1000), capped.Discount)
	require.Equal(t, money.Cents(0), capped.Final)

	require.Equal(t, discount.None(), discount.Percentage(0, 10))
	require.Equal(t, discount.None(), discount.Percentage(-100, 10))
	require.Equal(t, discount.None(), discount.Percentage(1000, -5))
	require.Equal(t, discount.None(), discount.Percentage(1000, math.NaN()))
	require.Equal(t, discount.None(), discount.Percentage(1000, math.Inf(1)))
}

func TestFixedCapsAtOriginal(t *testing.T) {
	t.Parallel()

	r := discount.Fixed(1000, 1500)
	require.Equal(t, money.Cents(1000), r.Discount)
	require.Equal(t, money.Cents(0), r.Final)
	requireConsistent(t, r)

	r = discount.Fixed(1000, 250)
	require.Equal(t, money.Cents(250), r.Discount)
	require.Equal(t, money.Cents(750), r.Final)

	require.Equal(t, discount.None(), discount.Fixed(1000, 0))
	require.Equal(t, discount.None(), discount.Fixed(0, 100))
}

func TestQuantityThreshold(t *testing.T) {
	t.Parallel()

	r := discount.Quantity(10, 500, 5, 10)
	require.Equal(t, discount.KindQuantity, r.Kind)
	require.Equal(t, money.Cents(5000), r.Original)
	require.Equal(t, money.Cents(500), r.Discount)

	require.Equal(t, discount.None(), discount.Quantity(4, 500, 5, 10))
	require.Equal(t, discount.None(), discount.Quantity(0, 500, 0, 10))
}

func TestBuyXGetYFreeFloorsPartialGroups(t *testing.T) {
	t.Parallel()

	r := discount.BuyXGetYFree(7, 1000, 3, 1)
	require.Equal(t, discount.KindBuyXGetY, r.Kind)
	require.Equal(t, money.Cents(7000), r.Original)
	require.Equal(t, money.Cents(2000), r.Discount)
	require.Equal(t, money.Cents(5000), r.Final)

	require.Equal(t, discount.None(), discount.BuyXGetYFree(2, 1000, 3, 1))
	require.Equal(t, discount.None(), discount.BuyXGetYFree(7, 1000, 0, 1))

	capped := discount.BuyXGetYFree(1, 1000, 1, 3)
	require.Equal(t, money.Cents(1000), capped.Discount)
	requireConsistent(t, capped)
}

func TestTieredPicksHighestQualifyingPercent(t *testing.T) {
	t.Parallel()

	tiers := []discount.AmountTier{{MinAmount: 10000, Percent: 5}, {MinAmount: 20000, Percent: 10}}

	r := discount.Tiered(15000, tiers)
	require.Equal(t, discount.KindTiered, r.Kind)
	require.Equal(t, money.Cents(750), r.Discount)

	r = discount.Tiered(25000, tiers)
	require.Equal(t, money.Cents(2500), r.Discount)

	require.Equal(t, discount.None(), discount.Tiered(9999, tiers))
	require.Equal(t, discount.None(), discount.Tiered(15000, nil))
}

func TestTieredPrefersPercentOverThreshold(t *testing.T) {
	t.Parallel()

	tiers := []discount.AmountTier{
		{MinAmount: 1000, Percent: 10},
		{MinAmount: 5000, Percent: 10},
		{MinAmount: 8000, Percent: 7},
	}
	r := discount.Tiered(15000, tiers)
	require.Equal(t, money.Cents(1500), r.Discount)
}

func TestBulkLowestUnitPriceWins(t *testing.T) {
	t.Parallel()

	tiers := []discount.QuantityTier{{MinQuantity: 10, UnitPrice: 900}, {MinQuantity: 50, UnitPrice: 800}}
	r := discount.Bulk(60, 1000, tiers)
	require.Equal(t, discount.KindBulk, r.Kind)
	require.Equal(t, money.Cents(60000), r.Original)
	require.Equal(t, money.Cents(48000), r.Final)
	require.Equal(t, money.Cents(12000), r.Discount)

	r = discount.Bulk(12, 1000, tiers)
	require.Equal(t, money.Cents(10800), r.Final)

	require.Equal(t, discount.None(), discount.Bulk(5, 1000, tiers))
	require.Equal(t, discount.None(), discount.Bulk(60, 700, tiers))
}

func TestBestKeepsFirstOnTie(t *testing.T) {
	t.Parallel()

	a := discount.Fixed(1000, 200)
	b := discount.Percentage(1000, 20)
	c := discount.Percentage(1000, 10)

	best := discount.Best(c, a, b)
	require.Equal(t, discount.KindFixed, best.Kind)

	require.Equal(t, discount.None(), discount.Best())
	require.Equal(t, discount.KindPercentage, discount.Best(discount.None(), b).Kind)
}
