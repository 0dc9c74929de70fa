package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Variant handles GET /api/v1/variants/{id}.
func (h *Handler) Variant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("invalid variant id", nil))
		return
	}
	v, err := h.service.GetVariant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrVariantNotFound) {
			common.WriteError(w, common.NotFound("variant not found", err))
			return
		}
		h.service.logger().Error().Err(err).Str("op", "catalog.variant").Str("variant_id", id.String()).Msg("load variant failed")
		common.WriteError(w, common.Internal(err))
		return
	}
	common.Data(w, http.StatusOK, v)
}
