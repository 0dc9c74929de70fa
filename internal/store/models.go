package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// CartStatus is the lifecycle state of a cart.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusAbandoned CartStatus = "abandoned"
	CartStatusCompleted CartStatus = "completed"
)

// CanTransition reports whether a cart may move from s to next. Carts only
// ever leave active, and abandoned or completed are terminal.
func (s CartStatus) CanTransition(next CartStatus) bool {
	return s == CartStatusActive && (next == CartStatusAbandoned || next == CartStatusCompleted)
}

// Cart is a row of the carts table. Exactly one of UserID and SessionToken is set.
type Cart struct {
	ID             uuid.UUID
	UserID         pgtype.UUID
	SessionToken   pgtype.Text
	Status         CartStatus
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CartItem is a row of the cart_items table.
type CartItem struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	VariantID uuid.UUID
	Quantity  int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant is a purchasable catalog variant. Options holds the JSON encoded option list.
type Variant struct {
	ID            uuid.UUID
	ProductLine   string
	SKU           string
	Name          string
	PriceCents    int64
	StockQuantity int32
	WeightKg      pgtype.Float8
	Options       []byte
	LockVersion   int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductLine groups variants sharing one option schema.
type ProductLine struct {
	Code         string
	Name         string
	OptionSchema []byte
	CreatedAt    time.Time
}

// ShippingMethod is a configured delivery option.
type ShippingMethod struct {
	Code               string
	Name               string
	BaseFeeCents       int64
	PerKgFeeCents      int64
	DistanceMultiplier pgtype.Float8
	Active             bool
	SortOrder          int32
}

// Order is the snapshot written when a cart checks out.
type Order struct {
	ID             uuid.UUID
	CartID         uuid.UUID
	UserID         pgtype.UUID
	SessionToken   pgtype.Text
	SubtotalCents  int64
	DiscountCents  int64
	TaxCents       int64
	ShippingCents  int64
	TotalCents     int64
	ShippingMethod pgtype.Text
	Currency       string
	CreatedAt      time.Time
}

// OrderItem is one purchased line of an order.
type OrderItem struct {
	OrderID        uuid.UUID
	VariantID      uuid.UUID
	SKU            string
	Name           string
	Quantity       int32
	UnitPriceCents int64
	LineTotalCents int64
}

// DomainEvent is a persisted event emitted by the services.
type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}

type CreateCartParams struct {
	UserID       pgtype.UUID
	SessionToken pgtype.Text
	At           time.Time
}

type TouchCartParams struct {
	ID uuid.UUID
	At time.Time
}

type TransitionCartParams struct {
	ID   uuid.UUID
	From CartStatus
	To   CartStatus
	At   time.Time
}

type AbandonCartsParams struct {
	InactiveSince time.Time
	At            time.Time
}

type CartItemKey struct {
	ID     uuid.UUID
	CartID uuid.UUID
}

type CartVariantKey struct {
	CartID    uuid.UUID
	VariantID uuid.UUID
}

type CreateCartItemParams struct {
	CartID    uuid.UUID
	VariantID uuid.UUID
	Quantity  int32
	At        time.Time
}

type UpdateCartItemQuantityParams struct {
	ID       uuid.UUID
	CartID   uuid.UUID
	Quantity int32
	At       time.Time
}

type CreateVariantParams struct {
	ID            uuid.UUID
	ProductLine   string
	SKU           string
	Name          string
	PriceCents    int64
	StockQuantity int32
	WeightKg      pgtype.Float8
	Options       []byte
}

type StockChangeParams struct {
	ID       uuid.UUID
	Quantity int32
}

type UpsertProductLineParams struct {
	Code         string
	Name         string
	OptionSchema []byte
}

type CreateOrderParams struct {
	ID             uuid.UUID
	CartID         uuid.UUID
	UserID         pgtype.UUID
	SessionToken   pgtype.Text
	SubtotalCents  int64
	DiscountCents  int64
	TaxCents       int64
	ShippingCents  int64
	TotalCents     int64
	ShippingMethod pgtype.Text
	Currency       string
	At             time.Time
}

type CreateOrderItemParams = OrderItem

type InsertDomainEventParams struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
}

// DefaultShippingMethods mirrors the rows seeded by the initial migration.
func DefaultShippingMethods() []ShippingMethod {
	return []ShippingMethod{
		{Code: "standard", Name: "Standard", BaseFeeCents: 599, PerKgFeeCents: 100, DistanceMultiplier: pgtype.Float8{Float64: 1.0, Valid: true}, Active: true, SortOrder: 1},
		{Code: "express", Name: "Express", BaseFeeCents: 1299, PerKgFeeCents: 200, DistanceMultiplier: pgtype.Float8{Float64: 1.5, Valid: true}, Active: true, SortOrder: 2},
		{Code: "overnight", Name: "Overnight", BaseFeeCents: 2499, PerKgFeeCents: 300, DistanceMultiplier: pgtype.Float8{Float64: 2.0, Valid: true}, Active: true, SortOrder: 3},
	}
}
