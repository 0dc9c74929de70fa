// Package pricing turns cart lines into totals: subtotal, configured
// discounts, tax, optional shipping and a display breakdown.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/atomic-shop/internal/discount"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/shipping"
)

// Policy decides how several applicable discount rules combine.
type Policy string

const (
	// PolicyStack sums every applicable discount.
	PolicyStack Policy = "stack"
	// PolicyBest keeps only the rule with the largest savings.
	PolicyBest Policy = "best"
)

// DefaultTaxRate is 8.75%.
var DefaultTaxRate = decimal.RequireFromString("0.0875")

// ParsePolicy maps a config value to a Policy, defaulting to stack.
func ParsePolicy(v string) Policy {
	if Policy(v) == PolicyBest {
		return PolicyBest
	}
	return PolicyStack
}

// Line is one priced cart line.
type Line struct {
	VariantID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice money.Cents
	WeightKg  *float64
}

// Subtotal is quantity times unit price, zero for empty lines.
func (l Line) Subtotal() money.Cents {
	if l.Quantity <= 0 || l.UnitPrice <= 0 {
		return 0
	}
	return money.Cents(l.Quantity) * l.UnitPrice
}

// ShippingRequest asks Calculate to price delivery.
type ShippingRequest struct {
	Method      shipping.Method
	Destination shipping.Destination
}

// BreakdownLine is one row of the displayed receipt.
type BreakdownLine struct {
	Label           string      `json:"label"`
	AmountCents     money.Cents `json:"amountCents"`
	FormattedAmount string      `json:"formattedAmount"`
}

// Totals is the full pricing result for a cart.
type Totals struct {
	Currency           string                `json:"currency,omitempty"`
	Subtotal           money.Cents           `json:"subtotalCents"`
	Discount           money.Cents           `json:"discountCents"`
	DiscountedSubtotal money.Cents           `json:"discountedSubtotalCents"`
	Tax                money.Cents           `json:"taxCents"`
	Shipping           money.Cents           `json:"shippingCents"`
	Total              money.Cents           `json:"totalCents"`
	Discounts          []discount.Applied    `json:"discounts"`
	ShippingQuote      *shipping.Quote       `json:"shippingQuote,omitempty"`
	FreeShipping       *shipping.Eligibility `json:"freeShipping,omitempty"`
	Breakdown          []BreakdownLine       `json:"breakdown"`
}

// Calculator prices carts. It holds no state between calls.
type Calculator struct {
	Rules                 []discount.Rule
	TaxRate               decimal.Decimal
	Policy                Policy
	FreeShippingThreshold money.Cents
	Currency              string
	Now                   func() time.Time
}

func (c Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Subtotal sums the lines.
func Subtotal(lines []Line) money.Cents {
	var total money.Cents
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

// Calculate prices lines and, when ship is non-nil, delivery.
func (c Calculator) Calculate(lines []Line, ship *ShippingRequest) Totals {
	subtotal := Subtotal(lines)
	applied := c.Applicable(lines)
	if c.Policy == PolicyBest {
		applied = flatten(bestRule(applied))
	}
	if applied == nil {
		applied = []discount.Applied{}
	}

	var discountSum money.Cents
	for _, a := range applied {
		discountSum += a.Discount
	}
	if discountSum > subtotal {
		discountSum = subtotal
	}
	discounted := money.Clamp(subtotal - discountSum)
	tax := money.Clamp(money.MulRate(discounted, c.TaxRate))

	t := Totals{
		Currency:           c.Currency,
		Subtotal:           subtotal,
		Discount:           discountSum,
		DiscountedSubtotal: discounted,
		Tax:                tax,
		Discounts:          applied,
	}

	if ship != nil {
		items := make([]shipping.Item, 0, len(lines))
		for _, l := range lines {
			items = append(items, shipping.Item{Quantity: l.Quantity, WeightKg: l.WeightKg})
		}
		quote := shipping.Estimate(items, ship.Method, ship.Destination)
		if c.FreeShippingThreshold > 0 {
			elig := shipping.FreeShippingEligibility(discounted, c.FreeShippingThreshold)
			t.FreeShipping = &elig
			if elig.Qualifies {
				quote = quote.Waive()
			}
		}
		t.ShippingQuote = &quote
		t.Shipping = quote.Total
	}
	t.Total = discounted + tax + t.Shipping
	t.Breakdown = breakdown(t, lines)
	return t
}

// Applicable evaluates every valid rule and returns all positive discounts
// in rule order.
func (c Calculator) Applicable(lines []Line) []discount.Applied {
	subtotal := Subtotal(lines)
	if subtotal <= 0 {
		return nil
	}
	dl := discountLines(lines)
	now := c.now()
	var out []discount.Applied
	for _, rule := range c.Rules {
		if rule.Check() != nil || rule.Validate(now, subtotal) != nil {
			continue
		}
		out = append(out, rule.Apply(dl)...)
	}
	return out
}

// Proposal is one rule's discount evaluated on its own.
type Proposal struct {
	Code    string             `json:"code"`
	Label   string             `json:"label"`
	Result  discount.Result    `json:"result"`
	Applied []discount.Applied `json:"applied"`
}

// Proposals evaluates each rule separately and reports which one saves the most.
func (c Calculator) Proposals(lines []Line) ([]Proposal, *Proposal) {
	grouped := groupByRule(c.Applicable(lines))
	proposals := make([]Proposal, 0, len(grouped))
	results := make([]discount.Result, 0, len(grouped))
	for _, g := range grouped {
		p := Proposal{Code: g[0].Code, Label: g[0].Label, Result: combine(g), Applied: g}
		proposals = append(proposals, p)
		results = append(results, p.Result)
	}
	best := discount.Best(results...)
	if !best.Applied() {
		return proposals, nil
	}
	for i := range proposals {
		if proposals[i].Result.Savings == best.Savings {
			return proposals, &proposals[i]
		}
	}
	return proposals, nil
}

func discountLines(lines []Line) []discount.Line {
	out := make([]discount.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, discount.Line{VariantID: l.VariantID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

// groupByRule splits applied discounts into per-rule groups preserving order.
func groupByRule(applied []discount.Applied) [][]discount.Applied {
	var groups [][]discount.Applied
	index := map[string]int{}
	for _, a := range applied {
		i, ok := index[a.Code]
		if !ok {
			i = len(groups)
			index[a.Code] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func combine(group []discount.Applied) discount.Result {
	res := discount.Result{Kind: group[0].Kind}
	for _, a := range group {
		res.Original += a.Original
		res.Discount += a.Discount
	}
	res.Final = res.Original - res.Discount
	res.Savings = res.Discount
	return res
}

func bestRule(applied []discount.Applied) [][]discount.Applied {
	groups := groupByRule(applied)
	if len(groups) == 0 {
		return nil
	}
	results := make([]discount.Result, 0, len(groups))
	for _, g := range groups {
		results = append(results, combine(g))
	}
	best := discount.Best(results...)
	for i, r := range results {
		if r.Savings == best.Savings {
			return groups[i : i+1]
		}
	}
	return nil
}

func flatten[T any](groups [][]T) []T {
	var out []T
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
