package discount

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/money"
)

var (
	// ErrMinimumSpendUnmet indicates the cart subtotal is below the rule's minimum spend.
	ErrMinimumSpendUnmet = errors.New("discount minimum spend not met")
	// ErrRuleInactive is returned before the rule's validity window opens.
	ErrRuleInactive = errors.New("discount rule not active")
	// ErrRuleExpired is returned once the rule's validity window has closed.
	ErrRuleExpired = errors.New("discount rule expired")
	// ErrInvalidRule marks a rule whose parameters cannot produce a discount.
	ErrInvalidRule = errors.New("discount rule invalid")
)

// Scope decides whether a rule prices each line or the cart as a whole.
type Scope string

const (
	ScopeLine Scope = "line"
	ScopeCart Scope = "cart"
)

// Rule is a configured discount the totals pipeline evaluates against a cart.
type Rule struct {
	Code          string
	Label         string
	Kind          Kind
	Scope         Scope
	Percent       float64
	Amount        money.Cents
	MinQuantity   int
	BuyQuantity   int
	FreeQuantity  int
	AmountTiers   []AmountTier
	QuantityTiers []QuantityTier
	MinSpend      money.Cents
	ValidFrom     *time.Time
	ValidTo       *time.Time
	VariantIDs    []uuid.UUID
}

// Line is the pricing view of a cart item.
type Line struct {
	VariantID uuid.UUID
	Quantity  int
	UnitPrice money.Cents
}

// Subtotal returns quantity times unit price, or zero for empty lines.
func (l Line) Subtotal() money.Cents {
	if l.Quantity <= 0 || l.UnitPrice <= 0 {
		return 0
	}
	return money.Cents(l.Quantity) * l.UnitPrice
}

// Applied is a positive discount produced by a rule.
type Applied struct {
	Code      string     `json:"code"`
	Label     string     `json:"label"`
	Scope     Scope      `json:"scope"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Result
}

// Check verifies the rule is internally consistent.
func (r Rule) Check() error {
	if r.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	if r.Scope != ScopeLine && r.Scope != ScopeCart {
		return fmt.Errorf("%w: %s: unknown scope %q", ErrInvalidRule, r.Code, r.Scope)
	}
	switch r.Kind {
	case KindPercentage:
		if !validPercent(r.Percent) {
			return fmt.Errorf("%w: %s: percent must be positive", ErrInvalidRule, r.Code)
		}
	case KindFixed:
		if r.Amount <= 0 {
			return fmt.Errorf("%w: %s: amount must be positive", ErrInvalidRule, r.Code)
		}
	case KindTiered:
		if len(r.AmountTiers) == 0 {
			return fmt.Errorf("%w: %s: tiers are required", ErrInvalidRule, r.Code)
		}
	case KindQuantity, KindBuyXGetY, KindBulk:
		if r.Scope != ScopeLine {
			return fmt.Errorf("%w: %s: %s rules price individual lines", ErrInvalidRule, r.Code, r.Kind)
		}
		if r.Kind == KindQuantity && (r.MinQuantity <= 0 || !validPercent(r.Percent)) {
			return fmt.Errorf("%w: %s: min quantity and percent are required", ErrInvalidRule, r.Code)
		}
		if r.Kind == KindBuyXGetY && (r.BuyQuantity <= 0 || r.FreeQuantity <= 0) {
			return fmt.Errorf("%w: %s: buy and free quantities are required", ErrInvalidRule, r.Code)
		}
		if r.Kind == KindBulk && len(r.QuantityTiers) == 0 {
			return fmt.Errorf("%w: %s: tiers are required", ErrInvalidRule, r.Code)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidRule, r.Code, r.Kind)
	}
	return nil
}

// Validate ensures the rule can be applied at the provided instant and subtotal.
func (r Rule) Validate(now time.Time, subtotal money.Cents) error {
	if subtotal < r.MinSpend {
		return ErrMinimumSpendUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrRuleInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrRuleExpired
	}
	return nil
}

// Apply evaluates the rule against the lines and returns every positive discount.
func (r Rule) Apply(lines []Line) []Applied {
	switch r.Scope {
	case ScopeLine:
		var out []Applied
		for _, line := range lines {
			if !r.matches(line.VariantID) {
				continue
			}
			res := r.applyLine(line)
			if !res.Applied() {
				continue
			}
			id := line.VariantID
			out = append(out, Applied{Code: r.Code, Label: r.Label, Scope: r.Scope, VariantID: &id, Result: res})
		}
		return out
	case ScopeCart:
		res := r.applyAmount(EligibleSubtotal(lines, r))
		if !res.Applied() {
			return nil
		}
		return []Applied{{Code: r.Code, Label: r.Label, Scope: r.Scope, Result: res}}
	default:
		return nil
	}
}

// EligibleSubtotal sums the lines the rule is scoped to.
func EligibleSubtotal(lines []Line, r Rule) money.Cents {
	var total money.Cents
	for _, line := range lines {
		if r.matches(line.VariantID) {
			total += line.Subtotal()
		}
	}
	return total
}

func (r Rule) matches(variantID uuid.UUID) bool {
	return len(r.VariantIDs) == 0 || slices.Contains(r.VariantIDs, variantID)
}

func (r Rule) applyLine(line Line) Result {
	switch r.Kind {
	case KindQuantity:
		return Quantity(line.Quantity, line.UnitPrice, r.MinQuantity, r.Percent)
	case KindBuyXGetY:
		return BuyXGetYFree(line.Quantity, line.UnitPrice, r.BuyQuantity, r.FreeQuantity)
	case KindBulk:
		return Bulk(line.Quantity, line.UnitPrice, r.QuantityTiers)
	default:
		return r.applyAmount(line.Subtotal())
	}
}

func (r Rule) applyAmount(amount money.Cents) Result {
	switch r.Kind {
	case KindPercentage:
		return Percentage(amount, r.Percent)
	case KindFixed:
		return Fixed(amount, r.Amount)
	case KindTiered:
		return Tiered(amount, r.AmountTiers)
	default:
		return None()
	}
}

// DefaultRules returns the stock rule set: a per-line quantity discount and
// an order-level tiered discount.
func DefaultRules(minQty int, qtyPercent float64, tiers []AmountTier) []Rule {
	rules := make([]Rule, 0, 2)
	if minQty > 0 && validPercent(qtyPercent) {
		rules = append(rules, Rule{
			Code:        "QTY",
			Label:       "Quantity discount",
			Kind:        KindQuantity,
			Scope:       ScopeLine,
			MinQuantity: minQty,
			Percent:     qtyPercent,
		})
	}
	if len(tiers) > 0 {
		rules = append(rules, Rule{
			Code:        "TIER",
			Label:       "Order discount",
			Kind:        KindTiered,
			Scope:       ScopeCart,
			AmountTiers: slices.Clone(tiers),
		})
	}
	return rules
}

// StandardTiers are the order-level breakpoints: $100, $200 and $500 for 5, 10 and 15 percent.
func StandardTiers() []AmountTier {
	return []AmountTier{
		{MinAmount: 10000, Percent: 5},
		{MinAmount: 20000, Percent: 10},
		{MinAmount: 50000, Percent: 15},
	}
}
