package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/resilience"
)

// Gateway talks to a hosted payment gateway over HTTPS. Outbound requests are
// signed with the shared secret and go through the resilient client, so a
// flapping gateway trips the breaker instead of stalling checkouts. Webhooks
// follow the same HMAC contract as the sandbox.
type Gateway struct {
	BaseURL string
	Secret  string
	HTTP    *resilience.HTTPClient
}

type gatewayIntentRequest struct {
	OrderID         string `json:"orderId"`
	AmountCents     int64  `json:"amountCents"`
	ExpiresAtSec    int    `json:"expiresAtSec,omitempty"`
	CallbackBaseURL string `json:"callbackBaseUrl,omitempty"`
}

// CreateIntent opens a payment session at the gateway.
func (g Gateway) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if g.HTTP == nil {
		return IntentResponse{}, errors.New("gateway http client not configured")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	body, err := json.Marshal(gatewayIntentRequest{
		OrderID:         req.OrderID,
		AmountCents:     req.AmountCents,
		ExpiresAtSec:    req.ExpiresAtSec,
		CallbackBaseURL: req.CallbackBaseURL,
	})
	if err != nil {
		return IntentResponse{}, err
	}

	url := strings.TrimRight(g.BaseURL, "/") + "/v1/intents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SignatureHeader, common.HMACSha256Hex(g.Secret, body))

	resp, err := g.HTTP.Do(ctx, httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("gateway create intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return IntentResponse{}, fmt.Errorf("gateway create intent: unexpected status %s", resp.Status)
	}
	var out IntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return IntentResponse{}, fmt.Errorf("gateway create intent: decode response: %w", err)
	}
	if out.Provider == "" {
		out.Provider = "gateway"
	}
	if out.Token == "" {
		return IntentResponse{}, errors.New("gateway create intent: response missing token")
	}
	return out, nil
}

// VerifyWebhook shares the sandbox's HMAC contract.
func (g Gateway) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	return Sandbox{Secret: g.Secret}.VerifyWebhook(r, body)
}
