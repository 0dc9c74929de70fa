package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/store"
)

// Item is a cart line joined with its live variant data.
type Item struct {
	ID                 uuid.UUID       `json:"id"`
	VariantID          uuid.UUID       `json:"variantId"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Options            catalog.Options `json:"options"`
	Quantity           int             `json:"quantity"`
	UnitPriceCents     money.Cents     `json:"unitPriceCents"`
	LineTotalCents     money.Cents     `json:"lineTotalCents"`
	FormattedLineTotal string          `json:"formattedLineTotal"`
	StockQuantity      int             `json:"stockQuantity"`
	InStock            bool            `json:"inStock"`
	WeightKg           *float64        `json:"weightKg,omitempty"`
}

// Snapshot is a cart and its items read at one point in time.
type Snapshot struct {
	Cart  store.Cart
	Items []Item
}

// TotalItems is the sum of line quantities.
func (s Snapshot) TotalItems() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// Lines converts the snapshot for the pricing calculator.
func (s Snapshot) Lines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(s.Items))
	for _, it := range s.Items {
		lines = append(lines, pricing.Line{
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPriceCents,
			WeightKg:  it.WeightKg,
		})
	}
	return lines
}

// Summary is the compact cart view returned by mutations.
type Summary struct {
	CartID          uuid.UUID        `json:"cartId,omitzero"`
	Status          store.CartStatus `json:"status"`
	TotalItems      int              `json:"totalItems"`
	TotalPriceCents money.Cents      `json:"totalPriceCents"`
	FormattedTotal  string           `json:"formattedTotal"`
	Items           []Item           `json:"items"`
}

// Summary builds the compact view. TotalPriceCents is the undiscounted subtotal.
func (s Snapshot) Summary() Summary {
	items := s.Items
	if items == nil {
		items = []Item{}
	}
	total := pricing.Subtotal(s.Lines())
	return Summary{
		CartID:          s.Cart.ID,
		Status:          s.Cart.Status,
		TotalItems:      s.TotalItems(),
		TotalPriceCents: total,
		FormattedTotal:  money.Format(total),
		Items:           items,
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{Cart: store.Cart{Status: store.CartStatusActive}, Items: []Item{}}
}

func loadSnapshot(ctx context.Context, q store.Querier, c store.Cart) (Snapshot, error) {
	rows, err := q.ListCartItems(ctx, c.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list cart items: %w", err)
	}
	snap := Snapshot{Cart: c, Items: make([]Item, 0, len(rows))}
	if len(rows) == 0 {
		return snap, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.VariantID)
	}
	variants, err := q.ListVariantsByIDs(ctx, ids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list variants: %w", err)
	}
	byID := make(map[uuid.UUID]store.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	for _, row := range rows {
		v, ok := byID[row.VariantID]
		if !ok {
			return Snapshot{}, fmt.Errorf("cart item %s: %w", row.ID, ErrVariantNotFound)
		}
		it, err := newItem(row, v)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Items = append(snap.Items, it)
	}
	return snap, nil
}

func newItem(row store.CartItem, v store.Variant) (Item, error) {
	opts, err := catalog.ParseOptions(v.Options)
	if err != nil {
		return Item{}, fmt.Errorf("variant %s options: %w", v.ID, err)
	}
	qty := int(row.Quantity)
	line := money.Cents(qty) * v.PriceCents
	it := Item{
		ID:                 row.ID,
		VariantID:          v.ID,
		SKU:                v.SKU,
		Name:               v.Name,
		Options:            opts,
		Quantity:           qty,
		UnitPriceCents:     v.PriceCents,
		LineTotalCents:     line,
		FormattedLineTotal: money.Format(line),
		StockQuantity:      int(v.StockQuantity),
		InStock:            inventory.InStock(int(v.StockQuantity)),
	}
	if v.WeightKg.Valid {
		w := v.WeightKg.Float64
		it.WeightKg = &w
	}
	return it, nil
}

// LockSnapshot locks the cart row inside q and loads its snapshot. The cart
// must still be active.
func LockSnapshot(ctx context.Context, q store.Querier, cartID uuid.UUID) (Snapshot, error) {
	c, err := q.GetCartByIDForUpdate(ctx, cartID)
	if err != nil {
		if store.IsNotFound(err) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	if c.Status != store.CartStatusActive {
		return Snapshot{}, ErrCartInactive
	}
	return loadSnapshot(ctx, q, c)
}
