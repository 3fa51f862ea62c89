package security_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pressplay/checkout-engine/internal/security"
)

func TestHeadersMiddleware(t *testing.T) {
	handler := security.Headers{Enable: true}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/orders/abc", nil))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	handler := security.BodyLimit{Max: 16}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	small := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(`{"ok":true}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, small)
	require.Equal(t, http.StatusOK, rr.Code)

	big := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(strings.Repeat("x", 64)))
	big.ContentLength = -1
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
