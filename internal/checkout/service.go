// Package checkout turns an active cart into an order: it re-validates the
// cart, decrements stock atomically, writes the order and completes the cart
// in one transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/atomic-shop/internal/cart"
	"github.com/noah-isme/atomic-shop/internal/common"
	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/lock"
	"github.com/noah-isme/atomic-shop/internal/obs"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/shipping"
	"github.com/noah-isme/atomic-shop/internal/store"
)

// Locker serializes checkouts of the same cart.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// StockCache drops cached variant reads once stock changed.
type StockCache interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

// Options selects the shipping method and destination priced into the order.
type Options struct {
	ShippingMethod string
	Destination    shipping.Destination
}

// OrderItem is one purchased line.
type OrderItem struct {
	VariantID      uuid.UUID `json:"variantId"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	LineTotalCents int64     `json:"lineTotalCents"`
}

// Result is the created order with the totals it was charged.
type Result struct {
	OrderID        uuid.UUID                 `json:"orderId"`
	CartID         uuid.UUID                 `json:"cartId"`
	Currency       string                    `json:"currency"`
	ShippingMethod string                    `json:"shippingMethod,omitempty"`
	Items          []OrderItem               `json:"items"`
	Totals         pricing.Totals            `json:"totals"`
	LowStock       []inventory.LowStockAlert `json:"-"`
	CreatedAt      time.Time                 `json:"createdAt"`
}

// Service coordinates checkout.
type Service struct {
	Store    store.Store
	Carts    *cart.Service
	Guard    inventory.Guard
	Catalog  StockCache
	Locker   Locker
	LockTTL  time.Duration
	Events   *events.Bus
	Log      *zerolog.Logger
	Currency string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	nop := zerolog.Nop()
	return &nop
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "USD"
	}
	return s.Currency
}

// Checkout places an order for the owner's active cart.
func (s *Service) Checkout(ctx context.Context, owner cart.Owner, opts Options) (Result, error) {
	ctx, span := obs.StartSpan(ctx, "checkout", attribute.String("cart.owner", owner.LogValue()))
	defer span.End()

	start := time.Now()
	res, err := s.checkout(ctx, owner, opts)
	result := "ok"
	if err != nil {
		err = s.fail(owner, err)
		span.RecordError(err)
		result = "error"
		if !common.IsCode(err, common.CodeInternal) {
			result = "rejected"
		}
	}
	obs.ObserveCheckout(result, obs.DurationMillis(time.Since(start)))
	return res, err
}

func (s *Service) checkout(ctx context.Context, owner cart.Owner, opts Options) (Result, error) {
	if s.Carts == nil || s.Store == nil || s.Locker == nil {
		return Result{}, errors.New("checkout service not configured")
	}
	c, err := s.Carts.Active(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	req, err := s.Carts.ShippingRequest(ctx, &cart.ShippingOptions{Method: opts.ShippingMethod, Destination: opts.Destination})
	if err != nil {
		return Result{}, err
	}

	var (
		res      Result
		recorded []store.DomainEvent
	)
	err = s.Locker.WithLock(ctx, "checkout:"+c.ID.String(), s.LockTTL, func(ctx context.Context) error {
		return s.Store.InTx(ctx, func(q store.Querier) error {
			var err error
			res, recorded, err = s.place(ctx, q, owner, c.ID, req)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}

	if s.Catalog != nil {
		ids := make([]uuid.UUID, 0, len(res.Items))
		for _, it := range res.Items {
			ids = append(ids, it.VariantID)
		}
		s.Catalog.Invalidate(ctx, ids...)
	}
	for _, ev := range recorded {
		if dispatchErr := s.Events.Dispatch(ctx, ev); dispatchErr != nil {
			s.logger().Warn().Err(dispatchErr).Str("topic", ev.Topic).Str("aggregate_id", ev.AggregateID.String()).Msg("event dispatch failed")
		}
	}
	for _, alert := range res.LowStock {
		s.logger().Warn().Str("variant_id", alert.VariantID.String()).Str("sku", alert.SKU).Int("remaining", alert.Remaining).Msg("low stock")
	}
	s.logger().Info().Str("order_id", res.OrderID.String()).Str("cart_id", res.CartID.String()).Int64("total_cents", res.Totals.Total).Msg("checkout completed")
	return res, nil
}

// place runs inside the checkout transaction.
func (s *Service) place(ctx context.Context, q store.Querier, owner cart.Owner, cartID uuid.UUID, req *pricing.ShippingRequest) (Result, []store.DomainEvent, error) {
	snap, err := cart.LockSnapshot(ctx, q, cartID)
	if err != nil {
		return Result{}, nil, err
	}
	totals := s.Carts.Pricing.Calculate(snap.Lines(), req)
	report := s.Carts.Validator.Validate(snap, cart.ModeCheckout, totals.Total)
	if !report.Valid {
		return Result{}, nil, common.Validation("cart cannot be checked out", cart.ErrValidationFailed, report)
	}

	lines := make([]inventory.Line, 0, len(snap.Items))
	for _, it := range snap.Items {
		lines = append(lines, inventory.Line{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	alerts, err := s.Guard.Reserve(ctx, q, lines)
	if err != nil {
		return Result{}, nil, err
	}

	now := s.now()
	userID, session := ownerColumns(owner)
	var method pgtype.Text
	if req != nil {
		method = pgtype.Text{String: req.Method.Code, Valid: true}
	}
	order, err := q.CreateOrder(ctx, store.CreateOrderParams{
		ID:             uuid.New(),
		CartID:         cartID,
		UserID:         userID,
		SessionToken:   session,
		SubtotalCents:  totals.Subtotal,
		DiscountCents:  totals.Discount,
		TaxCents:       totals.Tax,
		ShippingCents:  totals.Shipping,
		TotalCents:     totals.Total,
		ShippingMethod: method,
		Currency:       s.currency(),
		At:             now,
	})
	if err != nil {
		return Result{}, nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]OrderItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		row := store.CreateOrderItemParams{
			OrderID:        order.ID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Quantity:       int32(it.Quantity),
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineTotalCents,
		}
		if err := q.CreateOrderItem(ctx, row); err != nil {
			return Result{}, nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, OrderItem{
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineTotalCents,
		})
	}

	if _, err := q.TransitionCartStatus(ctx, store.TransitionCartParams{
		ID: cartID, From: store.CartStatusActive, To: store.CartStatusCompleted, At: now,
	}); err != nil {
		if store.IsNotFound(err) {
			return Result{}, nil, cart.ErrCartInactive
		}
		return Result{}, nil, err
	}

	recorded := make([]store.DomainEvent, 0, 2+len(alerts))
	ev, err := events.Record(ctx, q, events.TopicCartCompleted, cartID, map[string]any{
		"cartId":  cartID.String(),
		"orderId": order.ID.String(),
	})
	if err != nil {
		return Result{}, nil, err
	}
	recorded = append(recorded, ev)
	ev, err = events.Record(ctx, q, events.TopicOrderCreated, order.ID, map[string]any{
		"orderId":    order.ID.String(),
		"cartId":     cartID.String(),
		"owner":      owner.LogValue(),
		"totalCents": totals.Total,
		"currency":   order.Currency,
		"items":      len(items),
	})
	if err != nil {
		return Result{}, nil, err
	}
	recorded = append(recorded, ev)
	for _, alert := range alerts {
		ev, err := events.Record(ctx, q, events.TopicInventoryLowStock, alert.VariantID, alert)
		if err != nil {
			return Result{}, nil, err
		}
		recorded = append(recorded, ev)
	}

	res := Result{
		OrderID:   order.ID,
		CartID:    cartID,
		Currency:  order.Currency,
		Items:     items,
		Totals:    totals,
		LowStock:  alerts,
		CreatedAt: order.CreatedAt,
	}
	if req != nil {
		res.ShippingMethod = req.Method.Code
	}
	return res, recorded, nil
}

func ownerColumns(o cart.Owner) (pgtype.UUID, pgtype.Text) {
	if o.IsUser() {
		return pgtype.UUID{Bytes: o.UserID, Valid: true}, pgtype.Text{}
	}
	return pgtype.UUID{}, pgtype.Text{String: o.SessionToken, Valid: true}
}

func (s *Service) fail(owner cart.Owner, err error) error {
	if errors.Is(err, inventory.ErrInsufficientStock) {
		obs.IncStockConflict()
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var stockErr *inventory.StockError
	switch {
	case errors.As(err, &stockErr):
		issue := cart.StockIssue("", stockErr.VariantID.String(), stockErr.VariantID.String(), stockErr.Requested, stockErr.Available)
		return common.Validation("insufficient stock for checkout", err, []cart.Issue{issue})
	case errors.Is(err, cart.ErrCartInactive), errors.Is(err, cart.ErrInvalidOwner):
		return common.Validation(err.Error(), err, nil)
	case errors.Is(err, cart.ErrNotFound):
		return common.NotFound(cart.ErrNotFound.Error(), err)
	case errors.Is(err, inventory.ErrVariantNotFound):
		return common.NotFound(inventory.ErrVariantNotFound.Error(), err)
	case errors.Is(err, shipping.ErrMethodNotFound):
		return common.NotFound(shipping.ErrMethodNotFound.Error(), err)
	case errors.Is(err, store.ErrConflict):
		return common.Conflict("cart was already checked out", err)
	case errors.Is(err, lock.ErrNotAcquired) && errors.Is(err, context.DeadlineExceeded):
		return common.Conflict("checkout already in progress", err)
	case errors.Is(err, context.Canceled):
		s.logger().Info().Err(err).Str("op", "checkout").Str("owner", owner.LogValue()).Msg("checkout cancelled by caller")
		return common.Internal(err)
	}
	s.logger().Error().Err(err).Str("op", "checkout").Str("owner", owner.LogValue()).Msg("checkout failed")
	return common.Internal(err)
}
