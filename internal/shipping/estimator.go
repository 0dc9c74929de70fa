// Package shipping estimates delivery fees from cart weight, method and
// destination, and decides free-shipping eligibility.
package shipping

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/atomic-shop/internal/money"
)

// DefaultItemWeightKg is charged for items whose variant has no weight.
const DefaultItemWeightKg = 0.5

// MaxDistanceKm is the longest distance a destination may declare, roughly
// half the Earth's circumference.
const MaxDistanceKm = 20000.0

var (
	distanceRate = decimal.RequireFromString("0.10")
	hundredKm    = decimal.NewFromInt(100)
)

// Method is a delivery option with its fee schedule.
type Method struct {
	Code               string      `json:"code"`
	Name               string      `json:"name"`
	BaseFee            money.Cents `json:"baseFeeCents"`
	PerKgFee           money.Cents `json:"perKgFeeCents"`
	DistanceMultiplier *float64    `json:"distanceMultiplier,omitempty"`
}

// Destination is where the parcel goes. DistanceKm is optional.
type Destination struct {
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// Item is the weight contribution of one cart line.
type Item struct {
	Quantity int
	WeightKg *float64
}

// Quote is the fee breakdown for one method.
type Quote struct {
	Method        string      `json:"method"`
	BaseFee       money.Cents `json:"baseFeeCents"`
	WeightFee     money.Cents `json:"weightFeeCents"`
	DistanceFee   money.Cents `json:"distanceFeeCents"`
	Total         money.Cents `json:"totalCents"`
	TotalWeightKg float64     `json:"totalWeightKg"`
	Free          bool        `json:"free"`
}

// Eligibility tells the shopper how far the cart is from free shipping.
type Eligibility struct {
	Qualifies    bool        `json:"qualifies"`
	AmountNeeded money.Cents `json:"amountNeededCents"`
	Threshold    money.Cents `json:"thresholdCents"`
}

// TotalWeight sums item weights, charging DefaultItemWeightKg for unknown weights.
func TotalWeight(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		w := DefaultItemWeightKg
		if it.WeightKg != nil && validNonNegative(*it.WeightKg) {
			w = *it.WeightKg
		}
		total = total.Add(decimal.NewFromFloat(w).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Estimate prices delivery of items with method to dest.
func Estimate(items []Item, method Method, dest Destination) Quote {
	weight := TotalWeight(items)
	base := money.Clamp(method.BaseFee)
	weightFee := money.FromDecimal(weight.Mul(decimal.NewFromInt(money.Clamp(method.PerKgFee))))

	var distanceFee money.Cents
	if dest.DistanceKm != nil && method.DistanceMultiplier != nil &&
		validNonNegative(*dest.DistanceKm) && validNonNegative(*method.DistanceMultiplier) {
		km := math.Min(*dest.DistanceKm, MaxDistanceKm)
		distanceFee = money.FromDecimal(decimal.NewFromInt(base).
			Mul(distanceRate).
			Mul(decimal.NewFromFloat(km).Div(hundredKm)).
			Mul(decimal.NewFromFloat(*method.DistanceMultiplier)))
	}

	kg, _ := weight.Float64()
	return Quote{
		Method:        method.Code,
		BaseFee:       base,
		WeightFee:     weightFee,
		DistanceFee:   distanceFee,
		Total:         money.Sum(base, weightFee, distanceFee),
		TotalWeightKg: kg,
	}
}

// FreeShippingEligibility compares cartTotal against threshold.
func FreeShippingEligibility(cartTotal, threshold money.Cents) Eligibility {
	needed := threshold - cartTotal
	if needed < 0 {
		needed = 0
	}
	return Eligibility{
		Qualifies:    cartTotal >= threshold,
		AmountNeeded: needed,
		Threshold:    threshold,
	}
}

// Waive marks q as free. Every fee component is zeroed so the total stays their sum.
func (q Quote) Waive() Quote {
	q.Free = true
	q.BaseFee, q.WeightFee, q.DistanceFee, q.Total = 0, 0, 0, 0
	return q
}

func validNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
