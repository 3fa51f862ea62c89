package identity

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/pressplay/checkout-engine/internal/common"
)

var errNoIdentity = errors.New("identity: no credentials presented")

// Resolver derives a stable customer key from the request. Authenticated
// customers are keyed by the JWT subject; guests by a digest of the email they
// present, so guest quota tracking survives across requests.
type Resolver struct {
	Secret      []byte
	Issuer      string
	ClockSkew   time.Duration
	GuestHeader string
	Now         func() time.Time
}

const defaultGuestHeader = "X-Guest-Email"

// Resolve attaches the customer key to the request context when credentials
// are present. Requests without credentials pass through unchanged; handlers
// that need an identity enforce it via RequireCustomer.
func (m Resolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := m.resolveRequest(r)
		if err != nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCustomerKey(r.Context(), key)))
	})
}

// RequireCustomer rejects requests that carry no resolvable identity.
func (m Resolver) RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key, ok := CustomerKey(r.Context()); ok && key != "" {
			next.ServeHTTP(w, r)
			return
		}
		key, err := m.resolveRequest(r)
		if err != nil || key == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCustomerKey(r.Context(), key)))
	})
}

func (m Resolver) resolveRequest(r *http.Request) (string, error) {
	if token := extractBearer(r); token != "" {
		subject, err := m.parseToken(token)
		if err != nil {
			return "", err
		}
		return "user:" + subject, nil
	}
	header := m.GuestHeader
	if header == "" {
		header = defaultGuestHeader
	}
	email := strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
	if email != "" && strings.Contains(email, "@") {
		return "guest:" + common.Sha256Hex(email), nil
	}
	return "", errNoIdentity
}

func (m Resolver) parseToken(token string) (string, error) {
	if len(m.Secret) == 0 {
		return "", errors.New("identity: signing secret not configured")
	}
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, m.Secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(m.now)),
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	parsed, err := jwt.ParseString(token, options...)
	if err != nil {
		return "", err
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return "", errors.New("identity: token missing subject")
	}
	return subject, nil
}

func (m Resolver) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
