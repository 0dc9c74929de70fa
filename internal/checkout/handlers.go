package checkout

import (
	"net/http"
	"strings"

	"github.com/noah-isme/atomic-shop/internal/cart"
	"github.com/noah-isme/atomic-shop/internal/common"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc *Service
}

type checkoutRequest struct {
	ShippingMethod string                   `json:"shipping_method" validate:"omitempty,max=32"`
	Destination    *cart.DestinationRequest `json:"destination"`
}

// Checkout handles POST /cart/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, err := cart.OwnerFromContext(r.Context())
	if err != nil {
		common.WriteError(w, common.BadRequest("a user id or cart session is required", nil))
		return
	}
	var req checkoutRequest
	if err := common.Decode(r, &req, true); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.Svc.Checkout(r.Context(), owner, Options{
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
		Destination:    req.Destination.Destination(),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, res)
}
