package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/identity"
	"github.com/pressplay/checkout-engine/internal/payment"
)

// Handler exposes the checkout and order HTTP endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Create handles POST /v1/checkout.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	customerKey, ok := identity.CustomerKey(r.Context())
	if !ok || customerKey == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity required", nil)
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(in); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	out, err := h.Svc.Create(r.Context(), customerKey, in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

// Get handles GET /v1/orders/{orderID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	customerKey, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	order, err := h.Svc.Get(r.Context(), customerKey, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.RenderError(w, common.NotFound("order not found"))
			return
		}
		common.RenderError(w, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

// List handles GET /v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	customerKey, ok := identity.CustomerKey(r.Context())
	if !ok || customerKey == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity required", nil)
		return
	}
	orders, err := h.Svc.Orders.ListOrdersByCustomer(r.Context(), customerKey, 50)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.Data(w, http.StatusOK, orders)
}

// PaymentStatus handles GET /v1/orders/{orderID}/payment.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	customerKey, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	intent, err := h.Svc.PaymentStatus(r.Context(), customerKey, orderID)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			common.RenderError(w, common.NotFound("order not found"))
		case errors.Is(err, payment.ErrIntentNotFound):
			common.RenderError(w, common.NotFound("no payment intent for order"))
		default:
			common.RenderError(w, err)
		}
		return
	}
	common.Data(w, http.StatusOK, paymentStatusResponse{
		IntentID:    intent.ID,
		Provider:    intent.Provider,
		Status:      string(intent.Status),
		AmountCents: intent.AmountCents,
		RedirectURL: intent.RedirectURL,
		ExpiresAt:   intent.ExpiresAt,
	})
}

type paymentStatusResponse struct {
	IntentID    uuid.UUID `json:"intentId"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amountCents"`
	RedirectURL string    `json:"redirectUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RetryPayment handles POST /v1/orders/{orderID}/retry-payment.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	customerKey, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.RetryPayment(r.Context(), customerKey, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.RenderError(w, common.NotFound("order not found"))
			return
		}
		common.RenderError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Cancel handles POST /v1/orders/{orderID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	customerKey, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	order, err := h.Svc.Cancel(r.Context(), customerKey, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.RenderError(w, common.NotFound("order not found"))
			return
		}
		common.RenderError(w, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	customerKey, ok := identity.CustomerKey(r.Context())
	if !ok || customerKey == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity required", nil)
		return "", uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return "", uuid.Nil, false
	}
	return customerKey, orderID, true
}
