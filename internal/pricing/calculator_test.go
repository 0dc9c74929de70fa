package pricing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/discount"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/shipping"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func calculator(policy pricing.Policy) pricing.Calculator {
	return pricing.Calculator{
		Rules:                 discount.DefaultRules(5, 10, discount.StandardTiers()),
		TaxRate:               pricing.DefaultTaxRate,
		Policy:                policy,
		FreeShippingThreshold: 5000,
		Currency:              "USD",
		Now:                   func() time.Time { return fixedNow },
	}
}

func TestCalculateQuantityDiscountScenario(t *testing.T) {
	lines := []pricing.Line{{VariantID: uuid.New(), Name: "Tee", Quantity: 10, UnitPrice: 500}}
	totals := calculator(pricing.PolicyStack).Calculate(lines, nil)

	require.EqualValues(t, 5000, totals.Subtotal)
	require.EqualValues(t, 500, totals.Discount)
	require.EqualValues(t, 4500, totals.DiscountedSubtotal)
	require.EqualValues(t, 394, totals.Tax)
	require.Zero(t, totals.Shipping)
	require.EqualValues(t, 4894, totals.Total)

	require.Len(t, totals.Discounts, 1)
	require.Equal(t, "QTY", totals.Discounts[0].Code)

	labels := make([]string, 0, len(totals.Breakdown))
	for _, l := range totals.Breakdown {
		labels = append(labels, l.Label)
	}
	require.Equal(t, []string{"Subtotal", "Quantity discount (Tee)", "Tax", "Total"}, labels)
	require.EqualValues(t, -500, totals.Breakdown[1].AmountCents)
	require.Equal(t, "-$5.00", totals.Breakdown[1].FormattedAmount)
	require.Equal(t, "$48.94", totals.Breakdown[3].FormattedAmount)
}

func TestCalculateIsRepeatable(t *testing.T) {
	lines := []pricing.Line{
		{VariantID: uuid.New(), Quantity: 6, UnitPrice: 2500},
		{VariantID: uuid.New(), Quantity: 1, UnitPrice: 999},
	}
	ship := &pricing.ShippingRequest{Method: shipping.Method{Code: "standard", BaseFee: 599, PerKgFee: 100}}
	calc := calculator(pricing.PolicyStack)
	require.Equal(t, calc.Calculate(lines, ship), calc.Calculate(lines, ship))
}

func TestStackVersusBest(t *testing.T) {
	// 6 x 2500 = 15000: QTY saves 1500, TIER (5% of 15000) saves 750.
	lines := []pricing.Line{{VariantID: uuid.New(), Quantity: 6, UnitPrice: 2500}}

	stacked := calculator(pricing.PolicyStack).Calculate(lines, nil)
	require.EqualValues(t, 2250, stacked.Discount)
	require.Len(t, stacked.Discounts, 2)

	best := calculator(pricing.PolicyBest).Calculate(lines, nil)
	require.EqualValues(t, 1500, best.Discount)
	require.Len(t, best.Discounts, 1)
	require.Equal(t, "QTY", best.Discounts[0].Code)
}

func TestFreeShippingUsesDiscountedSubtotal(t *testing.T) {
	method := shipping.Method{Code: "standard", BaseFee: 599, PerKgFee: 100}

	// 5200 subtotal discounted to 4680 misses the 5000 threshold.
	below := calculator(pricing.PolicyStack).Calculate(
		[]pricing.Line{{VariantID: uuid.New(), Quantity: 8, UnitPrice: 650}},
		&pricing.ShippingRequest{Method: method},
	)
	require.EqualValues(t, 4680, below.DiscountedSubtotal)
	require.NotNil(t, below.FreeShipping)
	require.False(t, below.FreeShipping.Qualifies)
	require.EqualValues(t, 320, below.FreeShipping.AmountNeeded)
	require.EqualValues(t, 599+400, below.Shipping)
	require.Equal(t, below.DiscountedSubtotal+below.Tax+below.Shipping, below.Total)

	free := calculator(pricing.PolicyStack).Calculate(
		[]pricing.Line{{VariantID: uuid.New(), Quantity: 2, UnitPrice: 3000}},
		&pricing.ShippingRequest{Method: method},
	)
	require.True(t, free.ShippingQuote.Free)
	require.Zero(t, free.Shipping)
	require.EqualValues(t, 6000+525, free.Total)
}

func TestEmptyCart(t *testing.T) {
	totals := calculator(pricing.PolicyStack).Calculate(nil, nil)
	require.Zero(t, totals.Total)
	require.Empty(t, totals.Discounts)
	require.Empty(t, totals.Breakdown)
}

func TestProposals(t *testing.T) {
	lines := []pricing.Line{{VariantID: uuid.New(), Quantity: 6, UnitPrice: 2500}}
	proposals, best := calculator(pricing.PolicyStack).Proposals(lines)
	require.Len(t, proposals, 2)
	require.NotNil(t, best)
	require.Equal(t, "QTY", best.Code)
	require.EqualValues(t, 1500, best.Result.Savings)

	_, none := calculator(pricing.PolicyStack).Proposals([]pricing.Line{{VariantID: uuid.New(), Quantity: 1, UnitPrice: 100}})
	require.Nil(t, none)
}

func TestParsePolicy(t *testing.T) {
	require.Equal(t, pricing.PolicyBest, pricing.ParsePolicy("best"))
	require.Equal(t, pricing.PolicyStack, pricing.ParsePolicy(""))
	require.Equal(t, pricing.PolicyStack, pricing.ParsePolicy("anything"))
}
