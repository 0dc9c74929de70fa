// Package cart owns the cart lifecycle: find-or-create by owner, item
// mutations under row locks, totals, validation and the abandonment sweep.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/atomic-shop/internal/common"
	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/obs"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/shipping"
	"github.com/noah-isme/atomic-shop/internal/store"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound indicates the cart has no such line.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrVariantNotFound indicates the referenced variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCartInactive is returned when a cart is no longer active.
	ErrCartInactive = errors.New("cart is not active")
	// ErrLimitExceeded is returned when a mutation would break the cart caps.
	ErrLimitExceeded = errors.New("cart limit exceeded")
	// ErrValidationFailed wraps a failed validation report.
	ErrValidationFailed = errors.New("cart validation failed")
)

const maxConflictRetries = 2

// Service encapsulates cart domain operations.
type Service struct {
	Store        store.Store
	Pricing      pricing.Calculator
	Validator    Validator
	Shipping     *shipping.Service
	Events       *events.Bus
	Log          *zerolog.Logger
	Now          func() time.Time
	AbandonAfter time.Duration
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	l := zerolog.Nop()
	return &l
}

// inTx runs fn in a transaction, retrying when a concurrent writer won a
// uniqueness race (two first adds creating the same cart or line).
func (s *Service) inTx(ctx context.Context, fn func(q store.Querier) error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		err = s.Store.InTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

// fail converts err into the AppError returned to callers. Unexpected
// failures are logged here and hidden behind the safe internal message.
func (s *Service) fail(op string, owner Owner, err error) error {
	if err == nil {
		return nil
	}
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
		issue := StockIssue("", stockErr.VariantID.String(), stockErr.VariantID.String(), stockErr.Requested, stockErr.Available)
		return common.Validation("quantity exceeds available stock", err, []Issue{issue})
	case errors.Is(err, ErrInvalidOwner), errors.Is(err, ErrInvalidInput):
		return common.Validation(err.Error(), err, nil)
	case errors.Is(err, ErrCartInactive), errors.Is(err, ErrLimitExceeded):
		return common.Validation(err.Error(), err, nil)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrItemNotFound), errors.Is(err, ErrVariantNotFound),
		errors.Is(err, shipping.ErrMethodNotFound):
		return common.NotFound(rootMessage(err), err)
	case errors.Is(err, store.ErrConflict):
		return common.Conflict("cart was modified concurrently, retry the request", err)
	}
	s.logger().Error().Err(err).Str("op", op).Str("owner", owner.LogValue()).Msg("cart operation failed")
	return common.Internal(err)
}

func rootMessage(err error) string {
	for _, sentinel := range []error{ErrItemNotFound, ErrVariantNotFound, ErrNotFound, shipping.ErrMethodNotFound} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if common.IsCode(err, common.CodeValidation) {
			result = "rejected"
		}
	}
	obs.ObserveCartMutation(op, result)
}

// findActive returns the owner's active cart, or ErrNotFound.
func findActive(ctx context.Context, q store.Querier, owner Owner) (store.Cart, error) {
	var (
		c   store.Cart
		err error
	)
	if owner.IsUser() {
		c, err = q.GetActiveCartByUser(ctx, owner.UserID)
	} else {
		c, err = q.GetActiveCartBySession(ctx, owner.SessionToken)
	}
	if err != nil {
		if store.IsNotFound(err) {
			return store.Cart{}, ErrNotFound
		}
		return store.Cart{}, err
	}
	return c, nil
}

// lockCart finds or creates the owner's active cart and locks its row. Only
// mutations reach it, so a cart comes into existence on the first write.
func (s *Service) lockCart(ctx context.Context, q store.Querier, owner Owner) (store.Cart, error) {
	c, err := findActive(ctx, q, owner)
	if errors.Is(err, ErrNotFound) {
		userID, session := owner.columns()
		c, err = q.CreateCart(ctx, store.CreateCartParams{UserID: userID, SessionToken: session, At: s.now()})
	}
	if err != nil {
		return store.Cart{}, err
	}
	locked, err := q.GetCartByIDForUpdate(ctx, c.ID)
	if err != nil {
		return store.Cart{}, err
	}
	if locked.Status != store.CartStatusActive {
		return store.Cart{}, ErrCartInactive
	}
	return locked, nil
}

// Snapshot returns the owner's cart with live variant data. An owner with no
// active cart gets an empty active snapshot and nothing is written.
func (s *Service) Snapshot(ctx context.Context, owner Owner) (Snapshot, error) {
	if err := owner.Validate(); err != nil {
		return Snapshot{}, s.fail("cart.snapshot", owner, err)
	}
	c, err := findActive(ctx, s.Store, owner)
	if errors.Is(err, ErrNotFound) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, s.fail("cart.snapshot", owner, err)
	}
	snap, err := loadSnapshot(ctx, s.Store, c)
	if err != nil {
		return Snapshot{}, s.fail("cart.snapshot", owner, err)
	}
	return snap, nil
}

// Summary returns {totalItems, totalPriceCents, items}.
func (s *Service) Summary(ctx context.Context, owner Owner) (Summary, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return Summary{}, err
	}
	return snap.Summary(), nil
}

// mutate runs a locked cart mutation and returns the resulting summary.
func (s *Service) mutate(ctx context.Context, op string, owner Owner, fn func(q store.Querier, c store.Cart) error) (Summary, error) {
	ctx, span := obs.StartSpan(ctx, op, attribute.String("cart.owner", owner.LogValue()))
	defer span.End()

	if err := owner.Validate(); err != nil {
		err = s.fail(op, owner, err)
		s.observe(op, err)
		return Summary{}, err
	}
	var snap Snapshot
	err := s.inTx(ctx, func(q store.Querier) error {
		c, err := s.lockCart(ctx, q, owner)
		if err != nil {
			return err
		}
		if err := fn(q, c); err != nil {
			return err
		}
		if err := q.TouchCart(ctx, store.TouchCartParams{ID: c.ID, At: s.now()}); err != nil {
			return err
		}
		c.LastActivityAt = s.now()
		snap, err = loadSnapshot(ctx, q, c)
		return err
	})
	if err != nil {
		err = s.fail(op, owner, err)
		span.RecordError(err)
	}
	s.observe(op, err)
	if err != nil {
		return Summary{}, err
	}
	return snap.Summary(), nil
}

// limitsAfter checks the caps for the cart after a line changes from oldQty to newQty.
func (s *Service) limitsAfter(ctx context.Context, q store.Querier, c store.Cart, oldQty, newQty int, newLine bool) error {
	items, err := q.ListCartItems(ctx, c.ID)
	if err != nil {
		return err
	}
	total := 0
	for _, it := range items {
		total += int(it.Quantity)
	}
	total += newQty - oldQty
	lines := len(items)
	if newLine {
		lines++
	}
	if issue := s.Validator.CheckLimits(total, lines); issue != nil {
		return common.Validation(issue.Message, ErrLimitExceeded, []Issue{*issue})
	}
	return nil
}

// AddItem adds qty units of a variant, incrementing an existing line.
func (s *Service) AddItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (Summary, error) {
	if qty <= 0 {
		return Summary{}, s.fail("cart.add_item", owner, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput))
	}
	return s.mutate(ctx, "cart.add_item", owner, func(q store.Querier, c store.Cart) error {
		v, err := q.GetVariantForUpdate(ctx, variantID)
		if err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
			}
			return err
		}
		existing, err := q.GetCartItemByVariant(ctx, store.CartVariantKey{CartID: c.ID, VariantID: v.ID})
		found := err == nil
		if err != nil && !store.IsNotFound(err) {
			return err
		}
		oldQty := 0
		if found {
			oldQty = int(existing.Quantity)
		}
		newQty := oldQty + qty
		if !inventory.Available(int(v.StockQuantity), newQty) {
			issue := StockIssue(itemIDString(existing, found), v.ID.String(), v.Name, newQty, int(v.StockQuantity))
			return common.Validation("quantity exceeds available stock", inventory.ErrInsufficientStock, []Issue{issue})
		}
		if err := s.limitsAfter(ctx, q, c, oldQty, newQty, !found); err != nil {
			return err
		}
		if found {
			_, err = q.UpdateCartItemQuantity(ctx, store.UpdateCartItemQuantityParams{ID: existing.ID, CartID: c.ID, Quantity: int32(newQty), At: s.now()})
			return err
		}
		_, err = q.CreateCartItem(ctx, store.CreateCartItemParams{CartID: c.ID, VariantID: v.ID, Quantity: int32(newQty), At: s.now()})
		return err
	})
}

func itemIDString(it store.CartItem, found bool) string {
	if !found {
		return ""
	}
	return it.ID.String()
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, qty int) (Summary, error) {
	if qty < 0 {
		return Summary{}, s.fail("cart.update_item", owner, fmt.Errorf("quantity must not be negative: %w", ErrInvalidInput))
	}
	return s.mutate(ctx, "cart.update_item", owner, func(q store.Querier, c store.Cart) error {
		item, err := q.GetCartItem(ctx, store.CartItemKey{ID: itemID, CartID: c.ID})
		if err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
			}
			return err
		}
		if qty == 0 {
			_, err := q.DeleteCartItem(ctx, store.CartItemKey{ID: item.ID, CartID: c.ID})
			return err
		}
		v, err := q.GetVariantForUpdate(ctx, item.VariantID)
		if err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: %s", ErrVariantNotFound, item.VariantID)
			}
			return err
		}
		if !inventory.Available(int(v.StockQuantity), qty) {
			issue := StockIssue(item.ID.String(), v.ID.String(), v.Name, qty, int(v.StockQuantity))
			return common.Validation("quantity exceeds available stock", inventory.ErrInsufficientStock, []Issue{issue})
		}
		if err := s.limitsAfter(ctx, q, c, int(item.Quantity), qty, false); err != nil {
			return err
		}
		_, err = q.UpdateCartItemQuantity(ctx, store.UpdateCartItemQuantityParams{ID: item.ID, CartID: c.ID, Quantity: int32(qty), At: s.now()})
		return err
	})
}

// RemoveItem deletes one line.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (Summary, error) {
	return s.mutate(ctx, "cart.remove_item", owner, func(q store.Querier, c store.Cart) error {
		n, err := q.DeleteCartItem(ctx, store.CartItemKey{ID: itemID, CartID: c.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		return nil
	})
}

// Clear removes every line. The cart row itself stays.
func (s *Service) Clear(ctx context.Context, owner Owner) (Summary, error) {
	return s.mutate(ctx, "cart.clear", owner, func(q store.Querier, c store.Cart) error {
		_, err := q.DeleteCartItems(ctx, c.ID)
		return err
	})
}

// ShippingOptions selects a method and destination for totals and estimates.
type ShippingOptions struct {
	Method      string
	Destination shipping.Destination
}

// ShippingRequest resolves opts into a pricing request. A blank method means no shipping.
func (s *Service) ShippingRequest(ctx context.Context, opts *ShippingOptions) (*pricing.ShippingRequest, error) {
	if opts == nil || strings.TrimSpace(opts.Method) == "" {
		return nil, nil
	}
	if s.Shipping == nil {
		return nil, errors.New("shipping service not configured")
	}
	method, err := s.Shipping.Method(ctx, opts.Method)
	if err != nil {
		return nil, err
	}
	return &pricing.ShippingRequest{Method: method, Destination: opts.Destination}, nil
}

// Totals prices the owner's cart from a fresh snapshot.
func (s *Service) Totals(ctx context.Context, owner Owner, opts *ShippingOptions) (pricing.Totals, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return pricing.Totals{}, err
	}
	req, err := s.ShippingRequest(ctx, opts)
	if err != nil {
		return pricing.Totals{}, s.fail("cart.totals", owner, err)
	}
	return s.Pricing.Calculate(snap.Lines(), req), nil
}

// DiscountView lists every applicable rule separately and the best single one.
type DiscountView struct {
	Policy    pricing.Policy     `json:"policy"`
	Proposals []pricing.Proposal `json:"proposals"`
	Best      *pricing.Proposal  `json:"best"`
}

// Discounts evaluates the configured rules against the owner's cart.
func (s *Service) Discounts(ctx context.Context, owner Owner) (DiscountView, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return DiscountView{}, err
	}
	proposals, best := s.Pricing.Proposals(snap.Lines())
	policy := s.Pricing.Policy
	if policy == "" {
		policy = pricing.PolicyStack
	}
	return DiscountView{Policy: policy, Proposals: proposals, Best: best}, nil
}

// Validate runs the validator against the owner's cart.
func (s *Service) Validate(ctx context.Context, owner Owner, mode Mode) (Report, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return Report{}, err
	}
	totals := s.Pricing.Calculate(snap.Lines(), nil)
	return s.Validator.Validate(snap, mode, totals.Total), nil
}

// ShippingEstimate is a quote plus free-shipping progress for the cart.
type ShippingEstimate struct {
	Quote        shipping.Quote       `json:"quote"`
	FreeShipping shipping.Eligibility `json:"freeShipping"`
}

// EstimateShipping quotes delivery of the owner's cart.
func (s *Service) EstimateShipping(ctx context.Context, owner Owner, opts ShippingOptions) (ShippingEstimate, error) {
	if strings.TrimSpace(opts.Method) == "" {
		return ShippingEstimate{}, s.fail("cart.shipping_estimate", owner, fmt.Errorf("shipping method is required: %w", ErrInvalidInput))
	}
	totals, err := s.Totals(ctx, owner, &opts)
	if err != nil {
		return ShippingEstimate{}, err
	}
	est := ShippingEstimate{
		FreeShipping: shipping.FreeShippingEligibility(totals.DiscountedSubtotal, s.Pricing.FreeShippingThreshold),
	}
	if totals.ShippingQuote != nil {
		est.Quote = *totals.ShippingQuote
	}
	if totals.FreeShipping != nil {
		est.FreeShipping = *totals.FreeShipping
	}
	return est, nil
}

// MergeResult reports what a guest-to-user merge moved.
type MergeResult struct {
	Summary Summary  `json:"cart"`
	Merged  int      `json:"mergedLines"`
	Capped  []string `json:"cappedVariants,omitempty"`
	Skipped []string `json:"skippedVariants,omitempty"`
}

// Merge moves the lines of the guest cart for sessionToken into the user's
// cart. Quantities are capped at live stock and lines beyond the caps are
// skipped. The guest cart is emptied but stays active.
func (s *Service) Merge(ctx context.Context, user Owner, sessionToken string) (MergeResult, error) {
	const op = "cart.merge"
	guest := SessionOwner(sessionToken)
	if !user.IsUser() || user.SessionToken != "" {
		err := s.fail(op, user, fmt.Errorf("merge requires an authenticated user: %w", ErrInvalidOwner))
		s.observe(op, err)
		return MergeResult{}, err
	}
	if err := guest.Validate(); err != nil {
		err = s.fail(op, user, fmt.Errorf("session token is required: %w", ErrInvalidInput))
		s.observe(op, err)
		return MergeResult{}, err
	}
	var res MergeResult
	summary, err := s.mutate(ctx, op, user, func(q store.Querier, target store.Cart) error {
		res = MergeResult{}
		source, err := findActive(ctx, q, guest)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := q.GetCartByIDForUpdate(ctx, source.ID); err != nil {
			return err
		}
		guestItems, err := q.ListCartItems(ctx, source.ID)
		if err != nil {
			return err
		}
		for _, gi := range guestItems {
			if err := s.mergeLine(ctx, q, target, gi, &res); err != nil {
				return err
			}
		}
		_, err = q.DeleteCartItems(ctx, source.ID)
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}
	res.Summary = summary
	return res, nil
}

func (s *Service) mergeLine(ctx context.Context, q store.Querier, target store.Cart, gi store.CartItem, res *MergeResult) error {
	v, err := q.GetVariantForUpdate(ctx, gi.VariantID)
	if err != nil {
		if store.IsNotFound(err) {
			res.Skipped = append(res.Skipped, gi.VariantID.String())
			return nil
		}
		return err
	}
	existing, err := q.GetCartItemByVariant(ctx, store.CartVariantKey{CartID: target.ID, VariantID: v.ID})
	found := err == nil
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	oldQty := 0
	if found {
		oldQty = int(existing.Quantity)
	}
	want := oldQty + int(gi.Quantity)
	if stock := int(v.StockQuantity); want > stock {
		want = stock
		res.Capped = append(res.Capped, v.ID.String())
	}
	if want <= oldQty {
		if !found {
			res.Skipped = append(res.Skipped, v.ID.String())
		}
		return nil
	}
	if err := s.limitsAfter(ctx, q, target, oldQty, want, !found); err != nil {
		if errors.Is(err, ErrLimitExceeded) {
			res.Skipped = append(res.Skipped, v.ID.String())
			return nil
		}
		return err
	}
	if found {
		_, err = q.UpdateCartItemQuantity(ctx, store.UpdateCartItemQuantityParams{ID: existing.ID, CartID: target.ID, Quantity: int32(want), At: s.now()})
	} else {
		_, err = q.CreateCartItem(ctx, store.CreateCartItemParams{CartID: target.ID, VariantID: v.ID, Quantity: int32(want), At: s.now()})
	}
	if err == nil {
		res.Merged++
	}
	return err
}

// AbandonInactive marks active carts idle for longer than AbandonAfter as
// abandoned and emits one cart.abandoned event per cart.
func (s *Service) AbandonInactive(ctx context.Context) (int, error) {
	after := s.AbandonAfter
	if after <= 0 {
		after = 24 * time.Hour
	}
	now := s.now()
	cutoff := now.Add(-after)
	var recorded []store.DomainEvent
	err := s.Store.InTx(ctx, func(q store.Querier) error {
		recorded = recorded[:0]
		ids, err := q.AbandonInactiveCarts(ctx, store.AbandonCartsParams{InactiveSince: cutoff, At: now})
		if err != nil {
			return err
		}
		for _, id := range ids {
			ev, err := events.Record(ctx, q, events.TopicCartAbandoned, id, map[string]any{
				"cartId":        id.String(),
				"inactiveSince": cutoff,
			})
			if err != nil {
				return err
			}
			recorded = append(recorded, ev)
		}
		return nil
	})
	if err != nil {
		s.logger().Error().Err(err).Str("op", "cart.abandon_sweep").Msg("abandon sweep failed")
		return 0, common.Internal(err)
	}
	for _, ev := range recorded {
		if dispatchErr := s.Events.Dispatch(ctx, ev); dispatchErr != nil {
			s.logger().Warn().Err(dispatchErr).Str("cart_id", ev.AggregateID.String()).Msg("dispatch cart.abandoned failed")
		}
	}
	obs.AddCartsAbandoned(len(recorded))
	s.logger().Info().Int("abandoned", len(recorded)).Time("cutoff", cutoff).Msg("abandon sweep finished")
	return len(recorded), nil
}

// Active returns the owner's active cart without creating one.
func (s *Service) Active(ctx context.Context, owner Owner) (store.Cart, error) {
	if err := owner.Validate(); err != nil {
		return store.Cart{}, s.fail("cart.active", owner, err)
	}
	c, err := findActive(ctx, s.Store, owner)
	if err != nil {
		return store.Cart{}, s.fail("cart.active", owner, err)
	}
	return c, nil
}
