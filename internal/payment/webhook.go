package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/obs"
)

// Settler applies a verified gateway outcome to the order it belongs to.
// Implementations must be idempotent: gateways redeliver webhooks.
type Settler interface {
	HandlePaymentResult(ctx context.Context, orderID uuid.UUID, succeeded bool) error
}

// Webhook handles gateway callbacks, including signature verification,
// replay protection and settlement dispatch.
type Webhook struct {
	Providers map[string]Provider
	Store     IntentStore
	Settler   Settler
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle processes webhook callbacks for the named provider.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	if h.Store == nil || h.Settler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		h.observe(providerKey, "error")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		h.observe(providerKey, "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(string(body)))
		ok, err := h.Replay.SetNX(r.Context(), replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !ok {
			h.observe(providerKey, "replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	orderID, err := uuid.Parse(result.OrderID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "invalid order identifier", nil)
		return
	}
	ctx := r.Context()
	intent, err := h.Store.GetLatestIntentByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_FETCH_ERROR", "unable to load payment", nil)
		return
	}
	if result.AmountCents > 0 && intent.AmountCents != result.AmountCents {
		h.observe(providerKey, "amount_mismatch")
		common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
		return
	}

	status := normaliseStatus(result.Status)
	if err := h.Store.UpdateIntentStatus(ctx, intent.ID, status, result.ProviderPayload); err != nil {
		h.unmarkReplay(ctx, replayKey)
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_UPDATE_ERROR", "unable to update payment", nil)
		return
	}

	switch status {
	case StatusPaid:
		err = h.Settler.HandlePaymentResult(ctx, orderID, true)
	case StatusFailed, StatusExpired:
		err = h.Settler.HandlePaymentResult(ctx, orderID, false)
	}
	if err != nil {
		// Hand the key back so the gateway's redelivery is processed, not
		// rejected as a duplicate.
		h.unmarkReplay(ctx, replayKey)
		common.JSONError(w, http.StatusInternalServerError, "SETTLEMENT_FAILED", "unable to settle order", nil)
		return
	}
	h.observe(providerKey, string(status))
	common.Data(w, http.StatusOK, map[string]any{"orderId": orderID, "status": status})
}

func (h Webhook) unmarkReplay(ctx context.Context, key string) {
	if key == "" || h.Replay == nil {
		return
	}
	h.Replay.Del(ctx, key)
}

func (h Webhook) observe(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func normaliseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "settlement", "capture", "success", "succeeded":
		return StatusPaid
	case "expired", "expire":
		return StatusExpired
	case "failed", "deny", "cancel", "error":
		return StatusFailed
	default:
		return StatusPending
	}
}
