// Package money holds the minor-unit amount type and the rounding and
// display helpers shared by pricing code.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents represents a monetary value stored in minor units.
type Cents = int64

// ErrInvalidPrice is returned when a price string cannot be parsed.
var ErrInvalidPrice = errors.New("money: invalid price")

// MaxCents caps computed fees so that totals built from several of them
// still fit in an int64.
const MaxCents Cents = 1_000_000_000_000_000

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(MaxCents)
)

// Format renders cents as a two-decimal dollar string, e.g. 1299 -> "$12.99".
func Format(c Cents) string {
	if c < 0 {
		return "-$" + decimal.New(-c, -2).StringFixed(2)
	}
	return "$" + decimal.New(c, -2).StringFixed(2)
}

// Parse converts a display string such as "$1,234.50" back into cents.
// Fractions beyond two decimals are rounded half up.
func Parse(s string) (Cents, error) {
	raw := strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = strings.TrimSpace(raw[1:])
	}
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	cents := d.Round(2).Shift(2).IntPart()
	if negative {
		cents = -cents
	}
	return cents, nil
}

// MulRate multiplies an amount by a rate (0.0875 for 8.75%) and rounds half up to whole cents.
func MulRate(amount Cents, rate decimal.Decimal) Cents {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Percent returns pct percent of amount, rounded half up.
func Percent(amount Cents, pct decimal.Decimal) Cents {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// FromDecimal rounds d half up to whole cents, saturating at zero and MaxCents.
func FromDecimal(d decimal.Decimal) Cents {
	d = d.Round(0)
	switch {
	case d.IsNegative():
		return 0
	case d.GreaterThan(maxCents):
		return MaxCents
	}
	return d.IntPart()
}

// Sum adds non-negative amounts, saturating at MaxCents.
func Sum(amounts ...Cents) Cents {
	var total Cents
	for _, a := range amounts {
		a = Clamp(a)
		if a > MaxCents-total {
			return MaxCents
		}
		total += a
	}
	return total
}

// Clamp floors an amount at zero.
func Clamp(c Cents) Cents {
	if c < 0 {
		return 0
	}
	return c
}
