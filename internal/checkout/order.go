package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/pricing"
)

var (
	// ErrOrderNotFound is the miss result for order lookups.
	ErrOrderNotFound = errors.New("checkout: order not found")
	// ErrInvalidTransition rejects operations the state machine forbids.
	ErrInvalidTransition = errors.New("checkout: invalid status transition")
	// ErrRetryExhausted rejects a second payment retry.
	ErrRetryExhausted = errors.New("checkout: payment retry already used")
)

// Order is one checkout attempt with its frozen cart and pricing snapshot.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	CustomerKey string          `json:"-"`
	Status      Status          `json:"status"`
	Items       []cart.LineItem `json:"items"`

	PromoCodeID      *uuid.UUID `json:"promoCodeId,omitempty"`
	PromoCode        string     `json:"promoCode,omitempty"`
	PromoReason      string     `json:"promoReason,omitempty"`
	ReservationToken *uuid.UUID `json:"-"`

	Pricing    pricing.Summary `json:"pricing"`
	RetryCount int             `json:"retryCount"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store is the persistence contract for orders. TransitionStatus performs a
// conditional update: it must only succeed when the stored status still equals
// from, so concurrent webhook deliveries cannot double-apply a transition.
type Store interface {
	InsertOrder(ctx context.Context, o Order) (Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrdersByCustomer(ctx context.Context, customerKey string, limit int) ([]Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	UpdateCheckoutState(ctx context.Context, o Order) error
}
