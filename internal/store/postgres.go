package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Queries implements Querier over PostgreSQL.
type Queries struct {
	db DBTX
}

// New wraps a pgx connection, pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy bound to the transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// DB couples a pool with its Queries and runs transactions.
type DB struct {
	*Queries
	Pool *pgxpool.Pool
}

// NewDB constructs a DB over an open pool.
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{Queries: New(pool), Pool: pool}
}

// InTx runs fn in a read-committed transaction and commits when fn succeeds.
func (d *DB) InTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(d.Queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

const cartColumns = `id, user_id, session_token, status, last_activity_at, created_at, updated_at`

func scanCart(row pgx.Row) (Cart, error) {
	var (
		c      Cart
		status string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.SessionToken, &status, &c.LastActivityAt, &c.CreatedAt, &c.UpdatedAt)
	c.Status = CartStatus(status)
	return c, err
}

func (q *Queries) GetCartByID(ctx context.Context, id uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id))
}

func (q *Queries) GetCartByIDForUpdate(ctx context.Context, id uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetActiveCartByUser(ctx context.Context, userID uuid.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE user_id = $1 AND status = 'active'`, userID))
}

func (q *Queries) GetActiveCartBySession(ctx context.Context, token string) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE session_token = $1 AND status = 'active'`, token))
}

func (q *Queries) CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error) {
	c, err := scanCart(q.db.QueryRow(ctx, `
INSERT INTO carts (user_id, session_token, status, last_activity_at, created_at, updated_at)
VALUES ($1, $2, 'active', $3, $3, $3)
RETURNING `+cartColumns, arg.UserID, arg.SessionToken, arg.At))
	return c, mapErr(err)
}

func (q *Queries) TouchCart(ctx context.Context, arg TouchCartParams) error {
	_, err := q.db.Exec(ctx, `UPDATE carts SET last_activity_at = $2, updated_at = $2 WHERE id = $1`, arg.ID, arg.At)
	return err
}

// TransitionCartStatus only moves a cart that is currently in arg.From.
func (q *Queries) TransitionCartStatus(ctx context.Context, arg TransitionCartParams) (Cart, error) {
	if !arg.From.CanTransition(arg.To) {
		return Cart{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, arg.From, arg.To)
	}
	return scanCart(q.db.QueryRow(ctx, `
UPDATE carts SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING `+cartColumns, arg.ID, string(arg.From), string(arg.To), arg.At))
}

func (q *Queries) AbandonInactiveCarts(ctx context.Context, arg AbandonCartsParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
UPDATE carts SET status = 'abandoned', updated_at = $2
WHERE status = 'active' AND last_activity_at < $1
RETURNING id`, arg.InactiveSince, arg.At)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

const cartItemColumns = `id, cart_id, variant_id, quantity, created_at, updated_at`

func scanCartItem(row pgx.Row) (CartItem, error) {
	var it CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.VariantID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (q *Queries) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (q *Queries) GetCartItem(ctx context.Context, key CartItemKey) (CartItem, error) {
	return scanCartItem(q.db.QueryRow(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE id = $1 AND cart_id = $2`, key.ID, key.CartID))
}

func (q *Queries) GetCartItemByVariant(ctx context.Context, key CartVariantKey) (CartItem, error) {
	return scanCartItem(q.db.QueryRow(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 AND variant_id = $2`, key.CartID, key.VariantID))
}

func (q *Queries) CreateCartItem(ctx context.Context, arg CreateCartItemParams) (CartItem, error) {
	it, err := scanCartItem(q.db.QueryRow(ctx, `
INSERT INTO cart_items (cart_id, variant_id, quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
RETURNING `+cartItemColumns, arg.CartID, arg.VariantID, arg.Quantity, arg.At))
	return it, mapErr(err)
}

func (q *Queries) UpdateCartItemQuantity(ctx context.Context, arg UpdateCartItemQuantityParams) (CartItem, error) {
	return scanCartItem(q.db.QueryRow(ctx, `
UPDATE cart_items SET quantity = $3, updated_at = $4
WHERE id = $1 AND cart_id = $2
RETURNING `+cartItemColumns, arg.ID, arg.CartID, arg.Quantity, arg.At))
}

func (q *Queries) DeleteCartItem(ctx context.Context, key CartItemKey) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, key.ID, key.CartID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteCartItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const variantColumns = `id, product_line, sku, name, price_cents, stock_quantity, weight_kg, options, lock_version, created_at, updated_at`

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductLine, &v.SKU, &v.Name, &v.PriceCents, &v.StockQuantity,
		&v.WeightKg, &v.Options, &v.LockVersion, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (q *Queries) GetVariant(ctx context.Context, id uuid.UUID) (Variant, error) {
	return scanVariant(q.db.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = $1`, id))
}

func (q *Queries) GetVariantForUpdate(ctx context.Context, id uuid.UUID) (Variant, error) {
	return scanVariant(q.db.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) ListVariantsByIDs(ctx context.Context, ids []uuid.UUID) ([]Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := q.db.Query(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ANY($1::uuid[]) ORDER BY id`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (q *Queries) CreateVariant(ctx context.Context, arg CreateVariantParams) (Variant, error) {
	options := arg.Options
	if len(options) == 0 {
		options = []byte("[]")
	}
	v, err := scanVariant(q.db.QueryRow(ctx, `
INSERT INTO variants (id, product_line, sku, name, price_cents, stock_quantity, weight_kg, options)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+variantColumns,
		arg.ID, arg.ProductLine, arg.SKU, arg.Name, arg.PriceCents, arg.StockQuantity, arg.WeightKg, options))
	return v, mapErr(err)
}

// DecrementStock subtracts arg.Quantity only when enough stock remains.
// pgx.ErrNoRows means the guard rejected the decrement or the variant is missing.
func (q *Queries) DecrementStock(ctx context.Context, arg StockChangeParams) (Variant, error) {
	return scanVariant(q.db.QueryRow(ctx, `
UPDATE variants
SET stock_quantity = stock_quantity - $2, lock_version = lock_version + 1, updated_at = now()
WHERE id = $1 AND $2 > 0 AND stock_quantity >= $2
RETURNING `+variantColumns, arg.ID, arg.Quantity))
}

func (q *Queries) IncrementStock(ctx context.Context, arg StockChangeParams) (Variant, error) {
	return scanVariant(q.db.QueryRow(ctx, `
UPDATE variants
SET stock_quantity = stock_quantity + $2, lock_version = lock_version + 1, updated_at = now()
WHERE id = $1 AND $2 > 0
RETURNING `+variantColumns, arg.ID, arg.Quantity))
}

func (q *Queries) GetProductLine(ctx context.Context, code string) (ProductLine, error) {
	var pl ProductLine
	err := q.db.QueryRow(ctx, `SELECT code, name, option_schema, created_at FROM product_lines WHERE code = $1`, code).
		Scan(&pl.Code, &pl.Name, &pl.OptionSchema, &pl.CreatedAt)
	return pl, err
}

func (q *Queries) UpsertProductLine(ctx context.Context, arg UpsertProductLineParams) (ProductLine, error) {
	schema := arg.OptionSchema
	if len(schema) == 0 {
		schema = []byte("[]")
	}
	var pl ProductLine
	err := q.db.QueryRow(ctx, `
INSERT INTO product_lines (code, name, option_schema) VALUES ($1, $2, $3)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, option_schema = EXCLUDED.option_schema
RETURNING code, name, option_schema, created_at`, arg.Code, arg.Name, schema).
		Scan(&pl.Code, &pl.Name, &pl.OptionSchema, &pl.CreatedAt)
	return pl, err
}

const shippingColumns = `code, name, base_fee_cents, per_kg_fee_cents, distance_multiplier, active, sort_order`

func scanShippingMethod(row pgx.Row) (ShippingMethod, error) {
	var m ShippingMethod
	err := row.Scan(&m.Code, &m.Name, &m.BaseFeeCents, &m.PerKgFeeCents, &m.DistanceMultiplier, &m.Active, &m.SortOrder)
	return m, err
}

func (q *Queries) GetShippingMethod(ctx context.Context, code string) (ShippingMethod, error) {
	return scanShippingMethod(q.db.QueryRow(ctx,
		`SELECT `+shippingColumns+` FROM shipping_methods WHERE code = $1 AND active`, code))
}

func (q *Queries) ListShippingMethods(ctx context.Context) ([]ShippingMethod, error) {
	rows, err := q.db.Query(ctx, `SELECT `+shippingColumns+` FROM shipping_methods WHERE active ORDER BY sort_order, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShippingMethod
	for rows.Next() {
		m, err := scanShippingMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const orderColumns = `id, cart_id, user_id, session_token, subtotal_cents, discount_cents, tax_cents, shipping_cents, total_cents, shipping_method, currency, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CartID, &o.UserID, &o.SessionToken, &o.SubtotalCents, &o.DiscountCents,
		&o.TaxCents, &o.ShippingCents, &o.TotalCents, &o.ShippingMethod, &o.Currency, &o.CreatedAt)
	return o, err
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `
INSERT INTO orders (id, cart_id, user_id, session_token, subtotal_cents, discount_cents, tax_cents,
                    shipping_cents, total_cents, shipping_method, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+orderColumns,
		arg.ID, arg.CartID, arg.UserID, arg.SessionToken, arg.SubtotalCents, arg.DiscountCents, arg.TaxCents,
		arg.ShippingCents, arg.TotalCents, arg.ShippingMethod, arg.Currency, arg.At))
	return o, mapErr(err)
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO order_items (order_id, variant_id, sku, name, quantity, unit_price_cents, line_total_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		arg.OrderID, arg.VariantID, arg.SKU, arg.Name, arg.Quantity, arg.UnitPriceCents, arg.LineTotalCents)
	return err
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (q *Queries) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
SELECT order_id, variant_id, sku, name, quantity, unit_price_cents, line_total_cents
FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.OrderID, &it.VariantID, &it.SKU, &it.Name, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	var ev DomainEvent
	err := q.db.QueryRow(ctx, `
INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`, arg.Topic, arg.AggregateID, arg.Payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

var _ Querier = (*Queries)(nil)
var _ Store = (*DB)(nil)
