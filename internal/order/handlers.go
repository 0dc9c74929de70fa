// Package order serves read access to orders written at checkout.
package order

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/cart"
	"github.com/noah-isme/atomic-shop/internal/common"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/store"
)

// ErrNotFound is returned for unknown orders and for orders owned by someone else.
var ErrNotFound = errors.New("order not found")

type queryProvider interface {
	GetOrder(ctx context.Context, id uuid.UUID) (store.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]store.OrderItem, error)
}

// Item is one purchased line.
type Item struct {
	VariantID      uuid.UUID `json:"variantId"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	LineTotalCents int64     `json:"lineTotalCents"`
}

// View is the client representation of an order.
type View struct {
	ID             uuid.UUID `json:"id"`
	CartID         uuid.UUID `json:"cartId"`
	Currency       string    `json:"currency"`
	ShippingMethod string    `json:"shippingMethod,omitempty"`
	SubtotalCents  int64     `json:"subtotalCents"`
	DiscountCents  int64     `json:"discountCents"`
	TaxCents       int64     `json:"taxCents"`
	ShippingCents  int64     `json:"shippingCents"`
	TotalCents     int64     `json:"totalCents"`
	FormattedTotal string    `json:"formattedTotal"`
	Items          []Item    `json:"items"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Handler exposes GET /orders/{id}.
type Handler struct {
	Q queryProvider
}

// Find loads an order visible to owner.
func Find(ctx context.Context, q queryProvider, owner cart.Owner, id uuid.UUID) (View, error) {
	ord, err := q.GetOrder(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return View{}, ErrNotFound
		}
		return View{}, err
	}
	if !ownedBy(ord, owner) {
		return View{}, ErrNotFound
	}
	rows, err := q.ListOrderItems(ctx, id)
	if err != nil {
		return View{}, err
	}
	view := View{
		ID:             ord.ID,
		CartID:         ord.CartID,
		Currency:       ord.Currency,
		ShippingMethod: ord.ShippingMethod.String,
		SubtotalCents:  ord.SubtotalCents,
		DiscountCents:  ord.DiscountCents,
		TaxCents:       ord.TaxCents,
		ShippingCents:  ord.ShippingCents,
		TotalCents:     ord.TotalCents,
		FormattedTotal: money.Format(ord.TotalCents),
		Items:          make([]Item, 0, len(rows)),
		CreatedAt:      ord.CreatedAt,
	}
	for _, it := range rows {
		view.Items = append(view.Items, Item{
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Quantity:       int(it.Quantity),
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineTotalCents,
		})
	}
	return view, nil
}

func ownedBy(ord store.Order, owner cart.Owner) bool {
	if owner.IsUser() {
		return ord.UserID.Valid && uuid.UUID(ord.UserID.Bytes) == owner.UserID
	}
	return ord.SessionToken.Valid && owner.SessionToken != "" && ord.SessionToken.String == owner.SessionToken
}

// Get handles GET /orders/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, err := cart.OwnerFromContext(r.Context())
	if err != nil {
		common.WriteError(w, common.BadRequest("cart owner required", nil))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("invalid order id", nil))
		return
	}
	view, err := Find(r.Context(), h.Q, owner, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.WriteError(w, common.NotFound("order not found", err))
			return
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	common.Data(w, http.StatusOK, view)
}
