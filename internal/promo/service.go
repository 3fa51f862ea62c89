package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/obs"
	"github.com/pressplay/checkout-engine/internal/pricing"
)

// ErrNotFound is returned by store implementations when no rule matches the
// requested code. Lookups are case-insensitive.
var ErrNotFound = errors.New("promo: no such code")

// Querier captures the read operations the validator needs from persistence.
type Querier interface {
	GetRuleByCode(ctx context.Context, code string) (Rule, error)
	CountRedemptionsByCustomer(ctx context.Context, promoCodeID uuid.UUID, customerKey string) (int64, error)
	CountPaidOrdersByCustomer(ctx context.Context, customerKey string) (int64, error)
}

// Service evaluates promo codes against cart snapshots. All checks here are
// advisory reads; the discount ledger owns the authoritative quota gate.
type Service struct {
	Q                   Querier
	Now                 func() time.Time
	DefaultPerUserLimit int32
}

// Validate runs the full check sequence for a code and, on acceptance,
// computes the discount via the pricing engine. Rejections come back inside
// the Decision; only infrastructure failures surface as errors.
func (s *Service) Validate(ctx context.Context, code string, items []cart.LineItem, customerKey string, now time.Time) (Decision, error) {
	if s == nil || s.Q == nil {
		return Decision{}, errors.New("promo: service not configured")
	}
	if now.IsZero() {
		now = s.now()
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Rejected(ErrCodeNotFound, now), nil
	}
	if err := cart.ValidateSnapshot(items); err != nil {
		return Decision{}, fmt.Errorf("promo: invalid cart snapshot: %w", err)
	}

	rule, err := s.Q.GetRuleByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.observe(ReasonCodeNotFound)
			return Rejected(ErrCodeNotFound, now), nil
		}
		return Decision{}, err
	}
	if rule.MaxUsesPerUser <= 0 {
		rule.MaxUsesPerUser = s.DefaultPerUserLimit
	}

	usage := Usage{}
	if rule.NewCustomersOnly {
		usage.PaidOrders, err = s.Q.CountPaidOrdersByCustomer(ctx, customerKey)
		if err != nil {
			return Decision{}, err
		}
	}
	if rule.MaxUsesPerUser > 0 {
		usage.Redemptions, err = s.Q.CountRedemptionsByCustomer(ctx, rule.ID, customerKey)
		if err != nil {
			return Decision{}, err
		}
	}

	if err := rule.Evaluate(now, items, usage); err != nil {
		if IsRejection(err) {
			s.observe(Reason(err))
			return Rejected(err, now), nil
		}
		return Decision{}, err
	}

	d := rule.Discount()
	eligible := pricing.EligibleSubtotal(cart.PricingItems(items), &d)
	discount := pricing.DiscountAmount(eligible, d)
	s.observe(ReasonAccepted)
	return Decision{
		Accepted:      true,
		Reason:        ReasonAccepted,
		PromoCodeID:   rule.ID,
		Code:          rule.Code,
		DiscountCents: discount,
		EligibleCents: eligible,
		ValidatedAt:   now,
	}, nil
}

// Rule returns the stored rule for a code. Used by checkout to rebuild the
// discount shape after a successful validation.
func (s *Service) Rule(ctx context.Context, code string) (Rule, error) {
	if s == nil || s.Q == nil {
		return Rule{}, errors.New("promo: service not configured")
	}
	return s.Q.GetRuleByCode(ctx, strings.TrimSpace(code))
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) observe(reason string) {
	if obs.PromoValidationTotal != nil {
		obs.PromoValidationTotal.WithLabelValues(reason).Inc()
	}
}
