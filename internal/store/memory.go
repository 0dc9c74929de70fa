package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Memory is an in-process Store. Transactions run one at a time against a
// copy of the state that is swapped in on success, so a failed transaction
// leaves nothing behind.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

// NewMemory returns an empty store seeded with the default shipping methods.
func NewMemory() *Memory {
	st := &memState{
		carts:      map[uuid.UUID]Cart{},
		items:      map[uuid.UUID]CartItem{},
		itemSeq:    map[uuid.UUID]int64{},
		variants:   map[uuid.UUID]Variant{},
		lines:      map[string]ProductLine{},
		methods:    map[string]ShippingMethod{},
		orders:     map[uuid.UUID]Order{},
		orderItems: map[uuid.UUID][]OrderItem{},
	}
	for _, m := range DefaultShippingMethods() {
		st.methods[m.Code] = m
	}
	return &Memory{state: st}
}

// InTx runs fn against a private copy of the state and publishes it when fn succeeds.
func (m *Memory) InTx(ctx context.Context, fn func(Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	draft := m.state.clone()
	if err := fn(draft); err != nil {
		return err
	}
	m.state = draft
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Events returns a copy of every persisted domain event.
func (m *Memory) Events() []DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.events)
}

func (m *Memory) with(fn func(*memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

func (m *Memory) GetCartByID(ctx context.Context, id uuid.UUID) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.GetCartByID(ctx, id) })
	return
}

func (m *Memory) GetCartByIDForUpdate(ctx context.Context, id uuid.UUID) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.GetCartByIDForUpdate(ctx, id) })
	return
}

func (m *Memory) GetActiveCartByUser(ctx context.Context, userID uuid.UUID) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.GetActiveCartByUser(ctx, userID) })
	return
}

func (m *Memory) GetActiveCartBySession(ctx context.Context, token string) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.GetActiveCartBySession(ctx, token) })
	return
}

func (m *Memory) CreateCart(ctx context.Context, arg CreateCartParams) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.CreateCart(ctx, arg) })
	return
}

func (m *Memory) TouchCart(ctx context.Context, arg TouchCartParams) (err error) {
	m.with(func(s *memState) { err = s.TouchCart(ctx, arg) })
	return
}

func (m *Memory) TransitionCartStatus(ctx context.Context, arg TransitionCartParams) (c Cart, err error) {
	m.with(func(s *memState) { c, err = s.TransitionCartStatus(ctx, arg) })
	return
}

func (m *Memory) AbandonInactiveCarts(ctx context.Context, arg AbandonCartsParams) (ids []uuid.UUID, err error) {
	m.with(func(s *memState) { ids, err = s.AbandonInactiveCarts(ctx, arg) })
	return
}

func (m *Memory) ListCartItems(ctx context.Context, cartID uuid.UUID) (items []CartItem, err error) {
	m.with(func(s *memState) { items, err = s.ListCartItems(ctx, cartID) })
	return
}

func (m *Memory) GetCartItem(ctx context.Context, key CartItemKey) (it CartItem, err error) {
	m.with(func(s *memState) { it, err = s.GetCartItem(ctx, key) })
	return
}

func (m *Memory) GetCartItemByVariant(ctx context.Context, key CartVariantKey) (it CartItem, err error) {
	m.with(func(s *memState) { it, err = s.GetCartItemByVariant(ctx, key) })
	return
}

func (m *Memory) CreateCartItem(ctx context.Context, arg CreateCartItemParams) (it CartItem, err error) {
	m.with(func(s *memState) { it, err = s.CreateCartItem(ctx, arg) })
	return
}

func (m *Memory) UpdateCartItemQuantity(ctx context.Context, arg UpdateCartItemQuantityParams) (it CartItem, err error) {
	m.with(func(s *memState) { it, err = s.UpdateCartItemQuantity(ctx, arg) })
	return
}

func (m *Memory) DeleteCartItem(ctx context.Context, key CartItemKey) (n int64, err error) {
	m.with(func(s *memState) { n, err = s.DeleteCartItem(ctx, key) })
	return
}

func (m *Memory) DeleteCartItems(ctx context.Context, cartID uuid.UUID) (n int64, err error) {
	m.with(func(s *memState) { n, err = s.DeleteCartItems(ctx, cartID) })
	return
}

func (m *Memory) GetVariant(ctx context.Context, id uuid.UUID) (v Variant, err error) {
	m.with(func(s *memState) { v, err = s.GetVariant(ctx, id) })
	return
}

func (m *Memory) GetVariantForUpdate(ctx context.Context, id uuid.UUID) (v Variant, err error) {
	m.with(func(s *memState) { v, err = s.GetVariantForUpdate(ctx, id) })
	return
}

func (m *Memory) ListVariantsByIDs(ctx context.Context, ids []uuid.UUID) (vs []Variant, err error) {
	m.with(func(s *memState) { vs, err = s.ListVariantsByIDs(ctx, ids) })
	return
}

func (m *Memory) CreateVariant(ctx context.Context, arg CreateVariantParams) (v Variant, err error) {
	m.with(func(s *memState) { v, err = s.CreateVariant(ctx, arg) })
	return
}

func (m *Memory) DecrementStock(ctx context.Context, arg StockChangeParams) (v Variant, err error) {
	m.with(func(s *memState) { v, err = s.DecrementStock(ctx, arg) })
	return
}

func (m *Memory) IncrementStock(ctx context.Context, arg StockChangeParams) (v Variant, err error) {
	m.with(func(s *memState) { v, err = s.IncrementStock(ctx, arg) })
	return
}

func (m *Memory) GetProductLine(ctx context.Context, code string) (pl ProductLine, err error) {
	m.with(func(s *memState) { pl, err = s.GetProductLine(ctx, code) })
	return
}

func (m *Memory) UpsertProductLine(ctx context.Context, arg UpsertProductLineParams) (pl ProductLine, err error) {
	m.with(func(s *memState) { pl, err = s.UpsertProductLine(ctx, arg) })
	return
}

func (m *Memory) GetShippingMethod(ctx context.Context, code string) (sm ShippingMethod, err error) {
	m.with(func(s *memState) { sm, err = s.GetShippingMethod(ctx, code) })
	return
}

func (m *Memory) ListShippingMethods(ctx context.Context) (out []ShippingMethod, err error) {
	m.with(func(s *memState) { out, err = s.ListShippingMethods(ctx) })
	return
}

func (m *Memory) CreateOrder(ctx context.Context, arg CreateOrderParams) (o Order, err error) {
	m.with(func(s *memState) { o, err = s.CreateOrder(ctx, arg) })
	return
}

func (m *Memory) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (err error) {
	m.with(func(s *memState) { err = s.CreateOrderItem(ctx, arg) })
	return
}

func (m *Memory) GetOrder(ctx context.Context, id uuid.UUID) (o Order, err error) {
	m.with(func(s *memState) { o, err = s.GetOrder(ctx, id) })
	return
}

func (m *Memory) ListOrderItems(ctx context.Context, orderID uuid.UUID) (out []OrderItem, err error) {
	m.with(func(s *memState) { out, err = s.ListOrderItems(ctx, orderID) })
	return
}

func (m *Memory) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (ev DomainEvent, err error) {
	m.with(func(s *memState) { ev, err = s.InsertDomainEvent(ctx, arg) })
	return
}

type memState struct {
	carts      map[uuid.UUID]Cart
	items      map[uuid.UUID]CartItem
	itemSeq    map[uuid.UUID]int64
	seq        int64
	variants   map[uuid.UUID]Variant
	lines      map[string]ProductLine
	methods    map[string]ShippingMethod
	orders     map[uuid.UUID]Order
	orderItems map[uuid.UUID][]OrderItem
	events     []DomainEvent
}

func (s *memState) clone() *memState {
	out := &memState{
		carts:      maps.Clone(s.carts),
		items:      maps.Clone(s.items),
		itemSeq:    maps.Clone(s.itemSeq),
		seq:        s.seq,
		variants:   maps.Clone(s.variants),
		lines:      maps.Clone(s.lines),
		methods:    maps.Clone(s.methods),
		orders:     maps.Clone(s.orders),
		orderItems: make(map[uuid.UUID][]OrderItem, len(s.orderItems)),
		events:     slices.Clone(s.events),
	}
	for k, v := range s.orderItems {
		out.orderItems[k] = slices.Clone(v)
	}
	return out
}

func (s *memState) GetCartByID(_ context.Context, id uuid.UUID) (Cart, error) {
	c, ok := s.carts[id]
	if !ok {
		return Cart{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *memState) GetCartByIDForUpdate(ctx context.Context, id uuid.UUID) (Cart, error) {
	return s.GetCartByID(ctx, id)
}

func (s *memState) GetActiveCartByUser(_ context.Context, userID uuid.UUID) (Cart, error) {
	for _, c := range s.carts {
		if c.Status == CartStatusActive && c.UserID.Valid && uuid.UUID(c.UserID.Bytes) == userID {
			return c, nil
		}
	}
	return Cart{}, pgx.ErrNoRows
}

func (s *memState) GetActiveCartBySession(_ context.Context, token string) (Cart, error) {
	for _, c := range s.carts {
		if c.Status == CartStatusActive && c.SessionToken.Valid && c.SessionToken.String == token {
			return c, nil
		}
	}
	return Cart{}, pgx.ErrNoRows
}

func (s *memState) CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error) {
	if arg.UserID.Valid == arg.SessionToken.Valid {
		return Cart{}, errors.New("store: cart requires exactly one owner")
	}
	if arg.UserID.Valid {
		if _, err := s.GetActiveCartByUser(ctx, uuid.UUID(arg.UserID.Bytes)); err == nil {
			return Cart{}, fmt.Errorf("%w: carts_active_user_uniq", ErrConflict)
		}
	} else if _, err := s.GetActiveCartBySession(ctx, arg.SessionToken.String); err == nil {
		return Cart{}, fmt.Errorf("%w: carts_active_session_uniq", ErrConflict)
	}
	c := Cart{
		ID:             uuid.New(),
		UserID:         arg.UserID,
		SessionToken:   arg.SessionToken,
		Status:         CartStatusActive,
		LastActivityAt: arg.At,
		CreatedAt:      arg.At,
		UpdatedAt:      arg.At,
	}
	s.carts[c.ID] = c
	return c, nil
}

func (s *memState) TouchCart(_ context.Context, arg TouchCartParams) error {
	c, ok := s.carts[arg.ID]
	if !ok {
		return nil
	}
	c.LastActivityAt = arg.At
	c.UpdatedAt = arg.At
	s.carts[arg.ID] = c
	return nil
}

func (s *memState) TransitionCartStatus(_ context.Context, arg TransitionCartParams) (Cart, error) {
	if !arg.From.CanTransition(arg.To) {
		return Cart{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, arg.From, arg.To)
	}
	c, ok := s.carts[arg.ID]
	if !ok || c.Status != arg.From {
		return Cart{}, pgx.ErrNoRows
	}
	c.Status = arg.To
	c.UpdatedAt = arg.At
	s.carts[arg.ID] = c
	return c, nil
}

func (s *memState) AbandonInactiveCarts(_ context.Context, arg AbandonCartsParams) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, c := range s.carts {
		if c.Status != CartStatusActive || !c.LastActivityAt.Before(arg.InactiveSince) {
			continue
		}
		c.Status = CartStatusAbandoned
		c.UpdatedAt = arg.At
		s.carts[id] = c
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *memState) ListCartItems(_ context.Context, cartID uuid.UUID) ([]CartItem, error) {
	var out []CartItem
	for _, it := range s.items {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.itemSeq[out[i].ID] < s.itemSeq[out[j].ID] })
	return out, nil
}

func (s *memState) GetCartItem(_ context.Context, key CartItemKey) (CartItem, error) {
	it, ok := s.items[key.ID]
	if !ok || it.CartID != key.CartID {
		return CartItem{}, pgx.ErrNoRows
	}
	return it, nil
}

func (s *memState) GetCartItemByVariant(_ context.Context, key CartVariantKey) (CartItem, error) {
	for _, it := range s.items {
		if it.CartID == key.CartID && it.VariantID == key.VariantID {
			return it, nil
		}
	}
	return CartItem{}, pgx.ErrNoRows
}

func (s *memState) CreateCartItem(ctx context.Context, arg CreateCartItemParams) (CartItem, error) {
	if arg.Quantity <= 0 {
		return CartItem{}, errors.New("store: cart item quantity must be positive")
	}
	if _, ok := s.carts[arg.CartID]; !ok {
		return CartItem{}, errors.New("store: cart does not exist")
	}
	if _, ok := s.variants[arg.VariantID]; !ok {
		return CartItem{}, errors.New("store: variant does not exist")
	}
	if _, err := s.GetCartItemByVariant(ctx, CartVariantKey{CartID: arg.CartID, VariantID: arg.VariantID}); err == nil {
		return CartItem{}, fmt.Errorf("%w: cart_items_cart_variant_uniq", ErrConflict)
	}
	it := CartItem{
		ID:        uuid.New(),
		CartID:    arg.CartID,
		VariantID: arg.VariantID,
		Quantity:  arg.Quantity,
		CreatedAt: arg.At,
		UpdatedAt: arg.At,
	}
	s.seq++
	s.items[it.ID] = it
	s.itemSeq[it.ID] = s.seq
	return it, nil
}

func (s *memState) UpdateCartItemQuantity(_ context.Context, arg UpdateCartItemQuantityParams) (CartItem, error) {
	it, ok := s.items[arg.ID]
	if !ok || it.CartID != arg.CartID {
		return CartItem{}, pgx.ErrNoRows
	}
	if arg.Quantity <= 0 {
		return CartItem{}, errors.New("store: cart item quantity must be positive")
	}
	it.Quantity = arg.Quantity
	it.UpdatedAt = arg.At
	s.items[it.ID] = it
	return it, nil
}

func (s *memState) DeleteCartItem(_ context.Context, key CartItemKey) (int64, error) {
	it, ok := s.items[key.ID]
	if !ok || it.CartID != key.CartID {
		return 0, nil
	}
	delete(s.items, key.ID)
	delete(s.itemSeq, key.ID)
	return 1, nil
}

func (s *memState) DeleteCartItems(_ context.Context, cartID uuid.UUID) (int64, error) {
	var n int64
	for id, it := range s.items {
		if it.CartID == cartID {
			delete(s.items, id)
			delete(s.itemSeq, id)
			n++
		}
	}
	return n, nil
}

func (s *memState) GetVariant(_ context.Context, id uuid.UUID) (Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return Variant{}, pgx.ErrNoRows
	}
	return v, nil
}

func (s *memState) GetVariantForUpdate(ctx context.Context, id uuid.UUID) (Variant, error) {
	return s.GetVariant(ctx, id)
}

func (s *memState) ListVariantsByIDs(_ context.Context, ids []uuid.UUID) ([]Variant, error) {
	var out []Variant
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *memState) CreateVariant(_ context.Context, arg CreateVariantParams) (Variant, error) {
	if _, ok := s.lines[arg.ProductLine]; !ok {
		return Variant{}, fmt.Errorf("store: unknown product line %q", arg.ProductLine)
	}
	if _, ok := s.variants[arg.ID]; ok {
		return Variant{}, fmt.Errorf("%w: variants_pkey", ErrConflict)
	}
	for _, v := range s.variants {
		if v.SKU == arg.SKU {
			return Variant{}, fmt.Errorf("%w: variants_sku_key", ErrConflict)
		}
	}
	if arg.PriceCents < 0 || arg.StockQuantity < 0 {
		return Variant{}, errors.New("store: price and stock must be non-negative")
	}
	options := arg.Options
	if len(options) == 0 {
		options = []byte("[]")
	}
	now := time.Now().UTC()
	v := Variant{
		ID:            arg.ID,
		ProductLine:   arg.ProductLine,
		SKU:           arg.SKU,
		Name:          arg.Name,
		PriceCents:    arg.PriceCents,
		StockQuantity: arg.StockQuantity,
		WeightKg:      arg.WeightKg,
		Options:       slices.Clone(options),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.variants[v.ID] = v
	return v, nil
}

func (s *memState) DecrementStock(_ context.Context, arg StockChangeParams) (Variant, error) {
	v, ok := s.variants[arg.ID]
	if !ok || arg.Quantity <= 0 || v.StockQuantity < arg.Quantity {
		return Variant{}, pgx.ErrNoRows
	}
	v.StockQuantity -= arg.Quantity
	v.LockVersion++
	v.UpdatedAt = time.Now().UTC()
	s.variants[v.ID] = v
	return v, nil
}

func (s *memState) IncrementStock(_ context.Context, arg StockChangeParams) (Variant, error) {
	v, ok := s.variants[arg.ID]
	if !ok || arg.Quantity <= 0 {
		return Variant{}, pgx.ErrNoRows
	}
	v.StockQuantity += arg.Quantity
	v.LockVersion++
	v.UpdatedAt = time.Now().UTC()
	s.variants[v.ID] = v
	return v, nil
}

func (s *memState) GetProductLine(_ context.Context, code string) (ProductLine, error) {
	pl, ok := s.lines[code]
	if !ok {
		return ProductLine{}, pgx.ErrNoRows
	}
	return pl, nil
}

func (s *memState) UpsertProductLine(_ context.Context, arg UpsertProductLineParams) (ProductLine, error) {
	schema := arg.OptionSchema
	if len(schema) == 0 {
		schema = []byte("[]")
	}
	pl, ok := s.lines[arg.Code]
	if !ok {
		pl = ProductLine{Code: arg.Code, CreatedAt: time.Now().UTC()}
	}
	pl.Name = arg.Name
	pl.OptionSchema = slices.Clone(schema)
	s.lines[arg.Code] = pl
	return pl, nil
}

func (s *memState) GetShippingMethod(_ context.Context, code string) (ShippingMethod, error) {
	m, ok := s.methods[code]
	if !ok || !m.Active {
		return ShippingMethod{}, pgx.ErrNoRows
	}
	return m, nil
}

func (s *memState) ListShippingMethods(_ context.Context) ([]ShippingMethod, error) {
	var out []ShippingMethod
	for _, m := range s.methods {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *memState) CreateOrder(_ context.Context, arg CreateOrderParams) (Order, error) {
	for _, o := range s.orders {
		if o.CartID == arg.CartID {
			return Order{}, fmt.Errorf("%w: orders_cart_id_key", ErrConflict)
		}
	}
	o := Order{
		ID:             arg.ID,
		CartID:         arg.CartID,
		UserID:         arg.UserID,
		SessionToken:   arg.SessionToken,
		SubtotalCents:  arg.SubtotalCents,
		DiscountCents:  arg.DiscountCents,
		TaxCents:       arg.TaxCents,
		ShippingCents:  arg.ShippingCents,
		TotalCents:     arg.TotalCents,
		ShippingMethod: arg.ShippingMethod,
		Currency:       arg.Currency,
		CreatedAt:      arg.At,
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *memState) CreateOrderItem(_ context.Context, arg CreateOrderItemParams) error {
	if _, ok := s.orders[arg.OrderID]; !ok {
		return errors.New("store: order does not exist")
	}
	s.orderItems[arg.OrderID] = append(s.orderItems[arg.OrderID], arg)
	return nil
}

func (s *memState) GetOrder(_ context.Context, id uuid.UUID) (Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *memState) ListOrderItems(_ context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	return slices.Clone(s.orderItems[orderID]), nil
}

func (s *memState) InsertDomainEvent(_ context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	ev := DomainEvent{
		ID:          uuid.New(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     slices.Clone(arg.Payload),
		OccurredAt:  time.Now().UTC(),
	}
	s.events = append(s.events, ev)
	return ev, nil
}

var _ Store = (*Memory)(nil)
var _ Querier = (*memState)(nil)
