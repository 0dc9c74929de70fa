// Package discount implements the discount calculators and the configured
// rules the cart totals pipeline applies.
//
// Every calculator is total: malformed or non-positive inputs yield None()
// instead of an error, and a result never discounts more than its original.
package discount

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/atomic-shop/internal/money"
)

// Kind tags the calculator that produced a Result.
type Kind string

const (
	KindNone       Kind = "none"
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
	KindQuantity   Kind = "quantity"
	KindBuyXGetY   Kind = "buy_x_get_y"
	KindTiered     Kind = "tiered"
	KindBulk       Kind = "bulk"
)

// Result is the outcome of a single discount calculation.
type Result struct {
	Kind     Kind        `json:"type"`
	Original money.Cents `json:"originalCents"`
	Discount money.Cents `json:"discountCents"`
	Final    money.Cents `json:"finalCents"`
	Savings  money.Cents `json:"savingsCents"`
}

// AmountTier activates Percent once the amount reaches MinAmount.
type AmountTier struct {
	MinAmount money.Cents `json:"minAmountCents"`
	Percent   float64     `json:"percent"`
}

// QuantityTier replaces the unit price with UnitPrice once MinQuantity is reached.
type QuantityTier struct {
	MinQuantity int         `json:"minQuantity"`
	UnitPrice   money.Cents `json:"unitPriceCents"`
}

// None is the zero result returned for inputs that earn no discount.
func None() Result {
	return Result{Kind: KindNone}
}

// Applied reports whether the result carries a positive discount.
func (r Result) Applied() bool {
	return r.Kind != KindNone && r.Discount > 0
}

func newResult(kind Kind, original, discount money.Cents) Result {
	if original <= 0 {
		return None()
	}
	if discount > original {
		discount = original
	}
	if discount < 0 {
		discount = 0
	}
	return Result{
		Kind:     kind,
		Original: original,
		Discount: discount,
		Final:    original - discount,
		Savings:  discount,
	}
}

func validPercent(pct float64) bool {
	return pct > 0 && !math.IsNaN(pct) && !math.IsInf(pct, 0)
}

// Percentage takes pct percent off amount, rounding half up and capping at amount.
func Percentage(amount money.Cents, pct float64) Result {
	if amount <= 0 || !validPercent(pct) {
		return None()
	}
	return newResult(KindPercentage, amount, money.Percent(amount, decimal.NewFromFloat(pct)))
}

// Fixed takes a flat amount off, never more than the amount itself.
func Fixed(amount, flat money.Cents) Result {
	if amount <= 0 || flat <= 0 {
		return None()
	}
	return newResult(KindFixed, amount, min(flat, amount))
}

// Quantity applies pct to qty*unitPrice when qty reaches minQty.
func Quantity(qty int, unitPrice money.Cents, minQty int, pct float64) Result {
	if qty <= 0 || unitPrice <= 0 || qty < minQty {
		return None()
	}
	r := Percentage(money.Cents(qty)*unitPrice, pct)
	if r.Kind == KindNone {
		return r
	}
	r.Kind = KindQuantity
	return r
}

// BuyXGetYFree grants freeQty items for every complete group of buyQty.
// A trailing partial group earns nothing.
func BuyXGetYFree(qty int, unitPrice money.Cents, buyQty, freeQty int) Result {
	if qty <= 0 || unitPrice <= 0 || buyQty <= 0 || freeQty <= 0 {
		return None()
	}
	freeItems := (qty / buyQty) * freeQty
	if freeItems == 0 {
		return None()
	}
	return newResult(KindBuyXGetY, money.Cents(qty)*unitPrice, money.Cents(freeItems)*unitPrice)
}

// Tiered applies the highest percentage among tiers whose minimum the amount
// reaches. Equal percentages keep the first tier listed.
func Tiered(amount money.Cents, tiers []AmountTier) Result {
	if amount <= 0 {
		return None()
	}
	best := -1
	for i, tier := range tiers {
		if tier.MinAmount > amount || !validPercent(tier.Percent) {
			continue
		}
		if best < 0 || tier.Percent > tiers[best].Percent {
			best = i
		}
	}
	if best < 0 {
		return None()
	}
	r := Percentage(amount, tiers[best].Percent)
	if r.Kind == KindNone {
		return r
	}
	r.Kind = KindTiered
	return r
}

// Bulk reprices every unit at the lowest tier price the quantity qualifies
// for. Tiers that would not lower the price are ignored.
func Bulk(qty int, unitPrice money.Cents, tiers []QuantityTier) Result {
	if qty <= 0 || unitPrice <= 0 {
		return None()
	}
	best := -1
	for i, tier := range tiers {
		if tier.MinQuantity <= 0 || qty < tier.MinQuantity || tier.UnitPrice < 0 {
			continue
		}
		if best < 0 || tier.UnitPrice < tiers[best].UnitPrice {
			best = i
		}
	}
	if best < 0 || tiers[best].UnitPrice >= unitPrice {
		return None()
	}
	original := money.Cents(qty) * unitPrice
	final := money.Cents(qty) * tiers[best].UnitPrice
	return newResult(KindBulk, original, original-final)
}

// Best returns the result with the largest savings; the first one wins ties.
func Best(results ...Result) Result {
	best := None()
	found := false
	for _, r := range results {
		if !found || r.Savings > best.Savings {
			best = r
			found = true
		}
	}
	return best
}
