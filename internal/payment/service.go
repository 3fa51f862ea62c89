package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pressplay/checkout-engine/internal/obs"
)

// Status enumerates payment intent lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// ErrIntentNotFound is the miss result for intent lookups.
var ErrIntentNotFound = errors.New("payment: intent not found")

// ErrOrderAlreadyPaid rejects intent creation for settled orders.
var ErrOrderAlreadyPaid = errors.New("payment: order already paid")

// Intent is one persisted payment attempt for an order.
type Intent struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Provider    string
	Token       string
	RedirectURL string
	AmountCents int64
	Status      Status
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IntentStore is the persistence contract for payment intents.
type IntentStore interface {
	InsertIntent(ctx context.Context, intent Intent) (Intent, error)
	GetLatestIntentByOrder(ctx context.Context, orderID uuid.UUID) (Intent, error)
	UpdateIntentStatus(ctx context.Context, id uuid.UUID, status Status, payload []byte) error
}

// Service coordinates payment intents against the configured gateway.
type Service struct {
	Store     IntentStore
	Provider  Provider
	IntentTTL time.Duration
	Callback  string
	Now       func() time.Time
}

// CreateIntent creates (or reuses) a payment intent for the provided order.
// A pending unexpired intent is returned as-is so retried checkout requests
// do not open duplicate gateway sessions.
func (s *Service) CreateIntent(ctx context.Context, orderID uuid.UUID, amountCents int64) (Intent, error) {
	var zero Intent
	if s == nil || s.Store == nil || s.Provider == nil {
		return zero, errors.New("payment: service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	result := "error"
	providerName := "sandbox"
	defer func() {
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(providerName, result).Inc()
		}
	}()

	existing, err := s.Store.GetLatestIntentByOrder(ctx, orderID)
	if err == nil {
		switch existing.Status {
		case StatusPaid:
			return zero, ErrOrderAlreadyPaid
		case StatusPending:
			if existing.ExpiresAt.IsZero() || existing.ExpiresAt.After(s.now()) {
				providerName = existing.Provider
				result = "reused"
				return existing, nil
			}
		}
	} else if !errors.Is(err, ErrIntentNotFound) {
		return zero, err
	}

	ttl := s.IntentTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	resp, err := s.Provider.CreateIntent(ctx, IntentRequest{
		OrderID:         orderID.String(),
		AmountCents:     amountCents,
		ExpiresAtSec:    int(ttl.Seconds()),
		CallbackBaseURL: s.Callback,
	})
	if err != nil {
		span.RecordError(err)
		return zero, fmt.Errorf("payment: create intent: %w", err)
	}
	if resp.Provider != "" {
		providerName = resp.Provider
	}

	expiresAt := s.now().Add(ttl)
	if resp.ExpiresAt > 0 {
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	}
	intent, err := s.Store.InsertIntent(ctx, Intent{
		ID:          uuid.New(),
		OrderID:     orderID,
		Provider:    providerName,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		AmountCents: amountCents,
		Status:      StatusPending,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return zero, err
	}
	result = "success"
	return intent, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
