package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pressplay/checkout-engine/internal/common"
)

// Sandbox is an HMAC-signed gateway used in development and integration
// tests. Intents are synthesised locally; webhooks are authenticated with an
// X-Gateway-Signature header carrying the hex HMAC-SHA256 of the raw body.
type Sandbox struct {
	Secret  string
	BaseURL string
}

// SignatureHeader names the webhook signature header the sandbox expects.
const SignatureHeader = "X-Gateway-Signature"

// CreateIntent issues a deterministic intent without a network call.
func (s Sandbox) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	if req.AmountCents <= 0 {
		return IntentResponse{}, errors.New("amount must be positive")
	}
	token := "SBX-" + req.OrderID
	host := strings.TrimSpace(s.BaseURL)
	if host == "" {
		host = "https://gateway.sandbox.local"
	}
	ttl := req.ExpiresAtSec
	if ttl <= 0 {
		ttl = int((30 * time.Minute).Seconds())
	}
	return IntentResponse{
		Provider:    "sandbox",
		Token:       token,
		RedirectURL: fmt.Sprintf("%s/pay/%s", strings.TrimRight(host, "/"), token),
		ExpiresAt:   time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
	}, nil
}

// VerifyWebhook validates the body signature and normalises the payload.
func (s Sandbox) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	provided := strings.TrimSpace(r.Header.Get(SignatureHeader))
	expected := common.HMACSha256Hex(s.Secret, body)
	if provided == "" || !common.HMACEqual(expected, provided) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		OrderID     string `json:"orderId"`
		AmountCents int64  `json:"amountCents"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing order id")}, nil
	}
	return WebhookVerifyResult{
		Valid:           true,
		OrderID:         payload.OrderID,
		AmountCents:     payload.AmountCents,
		Status:          strings.ToLower(strings.TrimSpace(payload.Status)),
		ProviderPayload: body,
	}, nil
}
