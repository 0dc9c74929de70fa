package shipping

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/atomic-shop/internal/common"
)

// Handler exposes the shipping method listing.
type Handler struct {
	Svc       *Service
	Threshold int64
	Log       *zerolog.Logger
}

// List returns the active shipping methods and the free-shipping threshold.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	methods, err := h.Svc.Methods(r.Context())
	if err != nil {
		if h.Log != nil {
			h.Log.Error().Err(err).Str("op", "shipping.list").Msg("list shipping methods failed")
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"methods":               methods,
		"freeShippingThreshold": h.Threshold,
	})
}
