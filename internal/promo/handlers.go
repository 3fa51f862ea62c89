package promo

import (
	"encoding/json"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/identity"
)

// Handler exposes the storefront-facing validation endpoint.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type validateRequest struct {
	Code  string          `json:"code" validate:"required,max=64"`
	Items []cart.LineItem `json:"items" validate:"required,min=1,dive"`
}

// Preview validates a code against the supplied cart snapshot without
// consuming quota. The customer key comes from the request context.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo service not configured", nil)
		return
	}
	customerKey, ok := identity.CustomerKey(r.Context())
	if !ok || customerKey == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity required", nil)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	decision, err := h.Svc.Validate(r.Context(), req.Code, req.Items, customerKey, h.Svc.now())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo validation failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": decision})
}
