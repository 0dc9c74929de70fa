// Package store persists carts, variants, orders and domain events. Queries
// talks to PostgreSQL through pgx; Memory keeps the same contract in process.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("store: conflict")

// ErrInvalidTransition is returned for a cart status change other than
// active to abandoned or active to completed.
var ErrInvalidTransition = errors.New("store: invalid cart status transition")

// Querier lists every persistence operation used by the services.
type Querier interface {
	GetCartByID(ctx context.Context, id uuid.UUID) (Cart, error)
	GetCartByIDForUpdate(ctx context.Context, id uuid.UUID) (Cart, error)
	GetActiveCartByUser(ctx context.Context, userID uuid.UUID) (Cart, error)
	GetActiveCartBySession(ctx context.Context, token string) (Cart, error)
	CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error)
	TouchCart(ctx context.Context, arg TouchCartParams) error
	TransitionCartStatus(ctx context.Context, arg TransitionCartParams) (Cart, error)
	AbandonInactiveCarts(ctx context.Context, arg AbandonCartsParams) ([]uuid.UUID, error)

	ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error)
	GetCartItem(ctx context.Context, key CartItemKey) (CartItem, error)
	GetCartItemByVariant(ctx context.Context, key CartVariantKey) (CartItem, error)
	CreateCartItem(ctx context.Context, arg CreateCartItemParams) (CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, arg UpdateCartItemQuantityParams) (CartItem, error)
	DeleteCartItem(ctx context.Context, key CartItemKey) (int64, error)
	DeleteCartItems(ctx context.Context, cartID uuid.UUID) (int64, error)

	GetVariant(ctx context.Context, id uuid.UUID) (Variant, error)
	GetVariantForUpdate(ctx context.Context, id uuid.UUID) (Variant, error)
	ListVariantsByIDs(ctx context.Context, ids []uuid.UUID) ([]Variant, error)
	CreateVariant(ctx context.Context, arg CreateVariantParams) (Variant, error)
	DecrementStock(ctx context.Context, arg StockChangeParams) (Variant, error)
	IncrementStock(ctx context.Context, arg StockChangeParams) (Variant, error)

	GetProductLine(ctx context.Context, code string) (ProductLine, error)
	UpsertProductLine(ctx context.Context, arg UpsertProductLineParams) (ProductLine, error)

	GetShippingMethod(ctx context.Context, code string) (ShippingMethod, error)
	ListShippingMethods(ctx context.Context) ([]ShippingMethod, error)

	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error)

	InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error)
}

// TxRunner runs fn inside a transaction; fn's error rolls everything back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Querier) error) error
}

// Store is a Querier that can also open transactions.
type Store interface {
	Querier
	TxRunner
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
