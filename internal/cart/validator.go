package cart

import (
	"fmt"

	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/store"
)

// Mode selects which categories a validation run includes.
type Mode string

const (
	ModeCart     Mode = "cart"
	ModeCheckout Mode = "checkout"
)

// ParseMode maps a query value to a Mode, defaulting to ModeCart.
func ParseMode(v string) Mode {
	if Mode(v) == ModeCheckout {
		return ModeCheckout
	}
	return ModeCart
}

// Category names, in report order.
const (
	CategoryBasic         = "basic"
	CategoryInventory     = "inventory"
	CategoryBusinessRules = "business_rules"
	CategoryCheckout      = "checkout"
)

// Issue is one validation error.
type Issue struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ItemID    string `json:"itemId,omitempty"`
	VariantID string `json:"variantId,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	Shortfall int    `json:"shortfall,omitempty"`
}

// Category is the outcome of one group of checks.
type Category struct {
	Name    string  `json:"name"`
	Valid   bool    `json:"valid"`
	Message string  `json:"message"`
	Errors  []Issue `json:"errors"`
}

// ReportSummary counts the report outcome.
type ReportSummary struct {
	ValidCategories   int `json:"validCategories"`
	InvalidCategories int `json:"invalidCategories"`
	TotalErrors       int `json:"totalErrors"`
}

// Report is the aggregated validation result.
type Report struct {
	Valid      bool          `json:"valid"`
	Mode       Mode          `json:"mode"`
	Categories []Category    `json:"categories"`
	Summary    ReportSummary `json:"summary"`
}

// Validator runs the cart checks. Zero limits fall back to 50 units and 20 lines.
type Validator struct {
	MaxTotalItems int
	MaxLineItems  int
}

func (v Validator) maxTotal() int {
	if v.MaxTotalItems <= 0 {
		return 50
	}
	return v.MaxTotalItems
}

func (v Validator) maxLines() int {
	if v.MaxLineItems <= 0 {
		return 20
	}
	return v.MaxLineItems
}

// Validate checks snap. total is the computed cart total used by the checkout category.
func (v Validator) Validate(snap Snapshot, mode Mode, total money.Cents) Report {
	cats := []Category{
		v.basic(snap),
		v.inventory(snap),
		v.businessRules(snap),
	}
	if mode == ModeCheckout {
		cats = append(cats, v.checkout(snap, total))
	}
	report := Report{Valid: true, Mode: mode, Categories: cats}
	for _, c := range cats {
		if c.Valid {
			report.Summary.ValidCategories++
		} else {
			report.Valid = false
			report.Summary.InvalidCategories++
		}
		report.Summary.TotalErrors += len(c.Errors)
	}
	return report
}

func finish(name, okMsg, failMsg string, issues []Issue) Category {
	if issues == nil {
		issues = []Issue{}
	}
	c := Category{Name: name, Valid: len(issues) == 0, Message: okMsg, Errors: issues}
	if !c.Valid {
		c.Message = failMsg
	}
	return c
}

func (v Validator) basic(snap Snapshot) Category {
	var issues []Issue
	if len(snap.Items) == 0 {
		issues = append(issues, Issue{Code: "cart_empty", Message: "cart is empty"})
	}
	if snap.Cart.Status != store.CartStatusActive {
		issues = append(issues, Issue{Code: "cart_inactive", Message: fmt.Sprintf("cart is %s", snap.Cart.Status)})
	}
	return finish(CategoryBasic, "cart is ready", "cart is not usable", issues)
}

func (v Validator) inventory(snap Snapshot) Category {
	var issues []Issue
	for _, it := range snap.Items {
		if it.Quantity <= it.StockQuantity {
			continue
		}
		available := it.StockQuantity
		issues = append(issues, StockIssue(it.ID.String(), it.VariantID.String(), it.Name, it.Quantity, available))
	}
	return finish(CategoryInventory, "all items are available", "some items exceed available stock", issues)
}

// StockIssue describes a line that asks for more than stock holds.
func StockIssue(itemID, variantID, name string, requested, available int) Issue {
	if available < 0 {
		available = 0
	}
	return Issue{
		Code:      "insufficient_stock",
		Message:   fmt.Sprintf("only %d of %s available, %d requested", available, name, requested),
		ItemID:    itemID,
		VariantID: variantID,
		Requested: requested,
		Available: &available,
		Shortfall: inventory.Shortfall(available, requested),
	}
}

func (v Validator) businessRules(snap Snapshot) Category {
	var issues []Issue
	if total := snap.TotalItems(); total > v.maxTotal() {
		issues = append(issues, Issue{
			Code:    "too_many_items",
			Message: fmt.Sprintf("cart holds %d items, the limit is %d", total, v.maxTotal()),
		})
	}
	if lines := len(snap.Items); lines > v.maxLines() {
		issues = append(issues, Issue{
			Code:    "too_many_lines",
			Message: fmt.Sprintf("cart holds %d different items, the limit is %d", lines, v.maxLines()),
		})
	}
	return finish(CategoryBusinessRules, "cart is within limits", "cart exceeds limits", issues)
}

func (v Validator) checkout(snap Snapshot, total money.Cents) Category {
	var issues []Issue
	if total <= 0 {
		issues = append(issues, Issue{Code: "zero_total", Message: "cart total must be greater than zero"})
	}
	for _, it := range snap.Items {
		if !inventory.InStock(it.StockQuantity) {
			issues = append(issues, Issue{
				Code:      "out_of_stock",
				Message:   fmt.Sprintf("%s is out of stock", it.Name),
				ItemID:    it.ID.String(),
				VariantID: it.VariantID.String(),
			})
		}
	}
	return finish(CategoryCheckout, "cart can be checked out", "cart cannot be checked out", issues)
}

// CheckLimits reports whether a cart with totalItems units over lines distinct
// lines stays within the configured caps.
func (v Validator) CheckLimits(totalItems, lines int) *Issue {
	switch {
	case totalItems > v.maxTotal():
		return &Issue{Code: "too_many_items", Message: fmt.Sprintf("a cart may hold at most %d items", v.maxTotal())}
	case lines > v.maxLines():
		return &Issue{Code: "too_many_lines", Message: fmt.Sprintf("a cart may hold at most %d different items", v.maxLines())}
	}
	return nil
}
