// Package inventory answers stock questions and reserves stock atomically at checkout.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/store"
)

// DefaultLowStockThreshold is used when a Guard has no threshold configured.
const DefaultLowStockThreshold = 5

var (
	// ErrInsufficientStock is returned when a reservation exceeds live stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVariantNotFound is returned when a reserved variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
)

// Available reports whether requested units can be taken from stock.
func Available(stock, requested int) bool {
	return requested > 0 && requested <= stock
}

// InStock reports whether at least one unit remains.
func InStock(stock int) bool {
	return stock > 0
}

// LowStock reports whether stock is positive but at or below threshold.
func LowStock(stock, threshold int) bool {
	return InStock(stock) && stock <= threshold
}

// Shortfall is how many requested units stock cannot cover.
func Shortfall(stock, requested int) int {
	if requested <= stock {
		return 0
	}
	return requested - stock
}

// StockError describes a failed reservation for one variant.
type StockError struct {
	VariantID uuid.UUID
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: variant %s requested %d available %d", ErrInsufficientStock, e.VariantID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Line is one reservation request.
type Line struct {
	VariantID uuid.UUID
	Quantity  int
}

// LowStockAlert reports a variant that dropped to the low-stock threshold.
type LowStockAlert struct {
	VariantID uuid.UUID `json:"variantId"`
	SKU       string    `json:"sku"`
	Remaining int       `json:"remaining"`
}

// Guard reserves stock with a compare-and-decrement per line.
type Guard struct {
	LowStockThreshold int
}

// Reserve decrements stock for every line through q. It must run inside the
// caller's transaction; the first failing line aborts with a *StockError and
// the caller rolls back the lines already taken.
func (g Guard) Reserve(ctx context.Context, q store.Querier, lines []Line) ([]LowStockAlert, error) {
	threshold := g.LowStockThreshold
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	var alerts []LowStockAlert
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("reserve variant %s: quantity must be positive", line.VariantID)
		}
		v, err := q.DecrementStock(ctx, store.StockChangeParams{ID: line.VariantID, Quantity: int32(line.Quantity)})
		if err != nil {
			if !store.IsNotFound(err) {
				return nil, fmt.Errorf("reserve variant %s: %w", line.VariantID, err)
			}
			current, getErr := q.GetVariant(ctx, line.VariantID)
			if getErr != nil {
				if store.IsNotFound(getErr) {
					return nil, fmt.Errorf("reserve variant %s: %w", line.VariantID, ErrVariantNotFound)
				}
				return nil, fmt.Errorf("reserve variant %s: %w", line.VariantID, getErr)
			}
			return nil, &StockError{VariantID: line.VariantID, Requested: line.Quantity, Available: int(current.StockQuantity)}
		}
		if LowStock(int(v.StockQuantity), threshold) || !InStock(int(v.StockQuantity)) {
			alerts = append(alerts, LowStockAlert{VariantID: v.ID, SKU: v.SKU, Remaining: int(v.StockQuantity)})
		}
	}
	return alerts, nil
}
