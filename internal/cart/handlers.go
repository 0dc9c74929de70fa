package cart

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/common"
	"github.com/noah-isme/atomic-shop/internal/shipping"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (Owner, bool) {
	owner, err := OwnerFromContext(r.Context())
	if err != nil {
		common.WriteError(w, common.BadRequest("a user id or cart session is required", nil))
		return Owner{}, false
	}
	return owner, true
}

// Get handles GET /cart: the summary plus totals without shipping.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Snapshot(r.Context(), owner)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"cart":   snap.Summary(),
		"totals": h.Svc.Pricing.Calculate(snap.Lines(), nil),
	})
}

type addItemRequest struct {
	VariantID string `json:"product_variant_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// AddItem handles POST /cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := common.Decode(r, &req, false); err != nil {
		common.WriteError(w, err)
		return
	}
	summary, err := h.Svc.AddItem(r.Context(), owner, uuid.MustParse(req.VariantID), req.Quantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

// UpdateItem handles PATCH /cart/items/{itemId}. A zero quantity removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := common.Decode(r, &req, false); err != nil {
		common.WriteError(w, err)
		return
	}
	summary, err := h.Svc.UpdateQuantity(r.Context(), owner, itemID, *req.Quantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// RemoveItem handles DELETE /cart/items/{itemId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	summary, err := h.Svc.RemoveItem(r.Context(), owner, itemID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// Clear handles DELETE /cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	summary, err := h.Svc.Clear(r.Context(), owner)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

// Totals handles GET /cart/totals?shipping_method=&distance_km=&postal_code=.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	distance, err := common.QueryFloat(r, "distance_km", shipping.MaxDistanceKm)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	query := r.URL.Query()
	opts := &ShippingOptions{
		Method: strings.TrimSpace(query.Get("shipping_method")),
		Destination: shipping.Destination{
			PostalCode: strings.TrimSpace(query.Get("postal_code")),
			Country:    strings.TrimSpace(query.Get("country")),
			DistanceKm: distance,
		},
	}
	totals, err := h.Svc.Totals(r.Context(), owner, opts)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, totals)
}

// Discounts handles GET /cart/discounts.
func (h *Handler) Discounts(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Discounts(r.Context(), owner)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Validation handles GET /cart/validation?mode=cart|checkout.
func (h *Handler) Validation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	report, err := h.Svc.Validate(r.Context(), owner, ParseMode(r.URL.Query().Get("mode")))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, report)
}

// DestinationRequest is the JSON destination payload.
type DestinationRequest struct {
	PostalCode string   `json:"postal_code" validate:"omitempty,max=16"`
	Country    string   `json:"country" validate:"omitempty,len=2"`
	DistanceKm *float64 `json:"distance_km" validate:"omitempty,gte=0,lte=20000"`
}

// Destination converts the payload.
func (d *DestinationRequest) Destination() shipping.Destination {
	if d == nil {
		return shipping.Destination{}
	}
	return shipping.Destination{
		PostalCode: strings.TrimSpace(d.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(d.Country)),
		DistanceKm: d.DistanceKm,
	}
}

type estimateRequest struct {
	Method      string              `json:"method" validate:"required"`
	Destination *DestinationRequest `json:"destination"`
}

// EstimateShipping handles POST /cart/shipping/estimate.
func (h *Handler) EstimateShipping(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req estimateRequest
	if err := common.Decode(r, &req, false); err != nil {
		common.WriteError(w, err)
		return
	}
	est, err := h.Svc.EstimateShipping(r.Context(), owner, ShippingOptions{Method: req.Method, Destination: req.Destination.Destination()})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, est)
}

type mergeRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

// Merge handles POST /cart/merge for authenticated users.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if !owner.IsUser() {
		common.WriteError(w, common.BadRequest("merging requires a user id", nil))
		return
	}
	var req mergeRequest
	if err := common.Decode(r, &req, false); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.Svc.Merge(r.Context(), owner, req.SessionToken)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

func itemParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "itemId"))
	if err != nil {
		common.WriteError(w, common.BadRequest("invalid item id", nil))
		return uuid.UUID{}, false
	}
	return id, true
}
