package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/resilience"
)

func gatewayFixture(t *testing.T, handler http.HandlerFunc) Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Gateway{
		BaseURL: srv.URL,
		Secret:  "gw-secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(10, 0.5, time.Second),
			BaseBackoff: time.Millisecond,
			MaxAttempts: 3,
		},
	}
}

func TestGatewayCreateIntentSignsRequest(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	gw := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(IntentResponse{
			Provider:    "gateway",
			Token:       "GW-123",
			RedirectURL: "https://gateway.example/pay/GW-123",
		})
	})

	resp, err := gw.CreateIntent(context.Background(), IntentRequest{OrderID: "order-1", AmountCents: 5184})
	require.NoError(t, err)
	require.Equal(t, "GW-123", resp.Token)
	require.Equal(t, common.HMACSha256Hex("gw-secret", gotBody), gotSignature)
}

func TestGatewayCreateIntentRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(IntentResponse{Token: "GW-retry"})
	})

	resp, err := gw.CreateIntent(context.Background(), IntentRequest{OrderID: "order-2", AmountCents: 100})
	require.NoError(t, err)
	require.Equal(t, "GW-retry", resp.Token)
	require.Equal(t, "gateway", resp.Provider)
	require.EqualValues(t, 3, calls.Load())
}

func TestGatewayCreateIntentRejectsMissingToken(t *testing.T) {
	gw := gatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(IntentResponse{})
	})
	_, err := gw.CreateIntent(context.Background(), IntentRequest{OrderID: "order-3", AmountCents: 100})
	require.ErrorContains(t, err, "missing token")
}
