package common_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pressplay/checkout-engine/internal/common"
)

func TestRenderErrorUsesAppErrorStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	common.RenderError(rr, common.Conflict("INVALID_TRANSITION", "order already paid"))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.JSONEq(t,
		`{"error":{"code":"INVALID_TRANSITION","message":"order already paid"}}`,
		rr.Body.String())
}

func TestRenderErrorFallsBackToInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	common.RenderError(rr, context.DeadlineExceeded)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHMACRoundTrip(t *testing.T) {
	sig := common.HMACSha256Hex("secret", []byte(`{"intentId":"abc"}`))
	require.True(t, common.HMACEqual(sig, common.HMACSha256Hex("secret", []byte(`{"intentId":"abc"}`))))
	require.False(t, common.HMACEqual(sig, common.HMACSha256Hex("other", []byte(`{"intentId":"abc"}`))))
}

func TestIdemMiddlewareBlocksReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}))

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusCreated, do("order-1"))
	require.Equal(t, http.StatusConflict, do("order-1"))
	require.Equal(t, http.StatusCreated, do("order-2"))
	require.Equal(t, http.StatusCreated, do(""))
	require.Equal(t, 3, calls)
}
