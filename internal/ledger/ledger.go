package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pressplay/checkout-engine/internal/obs"
)

var (
	// ErrUsageLimitReached means the atomic reserve lost the race for the
	// last remaining use slot. A legitimate outcome, not a failure.
	ErrUsageLimitReached = errors.New("ledger: usage limit reached")
	// ErrPerUserLimitReached means the customer already holds or consumed
	// their allowance for the code.
	ErrPerUserLimitReached = errors.New("ledger: per-user limit reached")
	// ErrReservationNotFound means the token does not name a live
	// reservation. On commit this is a contract violation; on release it is
	// swallowed as an idempotent no-op.
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	// ErrApplicationNotFound is the miss result for application lookups.
	ErrApplicationNotFound = errors.New("ledger: application not found")
	// ErrUnknownPromoCode means the promo code id has no quota state at all.
	ErrUnknownPromoCode = errors.New("ledger: unknown promo code")
)

// Reservation is a provisional, time-bounded claim on one unit of a promo
// code's usage quota, held while a checkout is in flight.
type Reservation struct {
	Token       uuid.UUID
	PromoCodeID uuid.UUID
	CustomerKey string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Application records one committed redemption tied to a paid order.
type Application struct {
	PromoCodeID   uuid.UUID
	OrderID       uuid.UUID
	CustomerKey   string
	DiscountCents int64
	AppliedAt     time.Time
}

// Store is the persistence contract. ReserveUse must perform the conditional
// increment of the code's usage counter in a single atomic step (conditional
// UPDATE, compare-and-swap, or an equivalent); a read-then-write pair is the
// exact race this interface exists to prevent. Implementations also release
// any expired reservations for the code before deciding, so an orphaned
// reservation never permanently locks out a slot.
type Store interface {
	ReserveUse(ctx context.Context, res Reservation, perUserLimit int32) error
	ReleaseUse(ctx context.Context, token uuid.UUID) error
	CommitUse(ctx context.Context, token uuid.UUID, app Application) error
	GetApplicationByOrder(ctx context.Context, orderID uuid.UUID) (Application, error)
	ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
	PerUserLimit(ctx context.Context, promoCodeID uuid.UUID) (int32, error)
}

// Service wraps the store with token generation, TTL handling and telemetry.
type Service struct {
	Store          Store
	ReservationTTL time.Duration
	SweepBatch     int
	Now            func() time.Time
	Logger         zerolog.Logger
}

// TryReserve claims one use slot for the code on behalf of the customer.
// The returned token must be either committed or released before the TTL
// elapses; after that the sweep reclaims the slot.
func (s *Service) TryReserve(ctx context.Context, promoCodeID uuid.UUID, customerKey string) (uuid.UUID, error) {
	if s == nil || s.Store == nil {
		return uuid.Nil, errors.New("ledger: store not configured")
	}
	limit, err := s.Store.PerUserLimit(ctx, promoCodeID)
	if err != nil {
		return uuid.Nil, err
	}
	now := s.now()
	res := Reservation{
		Token:       uuid.New(),
		PromoCodeID: promoCodeID,
		CustomerKey: customerKey,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl()),
	}
	if err := s.Store.ReserveUse(ctx, res, limit); err != nil {
		s.observe("reserve", reserveResult(err))
		return uuid.Nil, err
	}
	s.observe("reserve", "ok")
	return res.Token, nil
}

// Commit persists the DiscountApplication for a now-paid order and retires
// the reservation. Idempotent on order id: a retried settlement webhook must
// not double-count. Reports whether this call wrote the application; a
// replayed commit returns false.
func (s *Service) Commit(ctx context.Context, token uuid.UUID, app Application) (bool, error) {
	if s == nil || s.Store == nil {
		return false, errors.New("ledger: store not configured")
	}
	if _, err := s.Store.GetApplicationByOrder(ctx, app.OrderID); err == nil {
		s.observe("commit", "replay")
		return false, nil
	} else if !errors.Is(err, ErrApplicationNotFound) {
		return false, err
	}
	if app.AppliedAt.IsZero() {
		app.AppliedAt = s.now()
	}
	if err := s.Store.CommitUse(ctx, token, app); err != nil {
		s.observe("commit", "error")
		return false, err
	}
	s.observe("commit", "ok")
	return true, nil
}

// Release hands the reserved slot back, decrementing the usage counter. Safe
// to call more than once; releasing an unknown token is a no-op.
func (s *Service) Release(ctx context.Context, token uuid.UUID) error {
	if s == nil || s.Store == nil {
		return errors.New("ledger: store not configured")
	}
	err := s.Store.ReleaseUse(ctx, token)
	if errors.Is(err, ErrReservationNotFound) {
		s.observe("release", "noop")
		return nil
	}
	if err != nil {
		s.observe("release", "error")
		return err
	}
	s.observe("release", "ok")
	return nil
}

// Sweep releases reservations whose TTL elapsed without a commit. Intended to
// run under a distributed lock from the worker binary.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.Store == nil {
		return 0, errors.New("ledger: store not configured")
	}
	batch := s.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	released, err := s.Store.ReleaseExpired(ctx, s.now(), batch)
	if err != nil {
		s.observe("sweep", "error")
		return released, err
	}
	if released > 0 {
		s.Logger.Info().Int("released", released).Msg("ledger_sweep")
	}
	s.observe("sweep", "ok")
	return released, nil
}

func (s *Service) ttl() time.Duration {
	if s.ReservationTTL > 0 {
		return s.ReservationTTL
	}
	return 15 * time.Minute
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) observe(op, result string) {
	if obs.LedgerOpsTotal != nil {
		obs.LedgerOpsTotal.WithLabelValues(op, result).Inc()
	}
}

func reserveResult(err error) string {
	switch {
	case errors.Is(err, ErrUsageLimitReached):
		return "limit"
	case errors.Is(err, ErrPerUserLimitReached):
		return "per_user_limit"
	default:
		return "error"
	}
}
