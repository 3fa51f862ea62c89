package promo

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/pricing"
)

// Validation rejections, in check order. Each maps 1:1 onto a wire reason
// code via Reason.
var (
	// ErrCodeNotFound covers unknown codes and codes switched inactive.
	ErrCodeNotFound = errors.New("promo: code not found")
	// ErrCodeNotYetActive is returned before the start of the validity window.
	ErrCodeNotYetActive = errors.New("promo: code not yet active")
	// ErrCodeExpired is returned at or after the end of the validity window.
	ErrCodeExpired = errors.New("promo: code expired")
	// ErrNotApplicableToCart means no line item kind in the cart is eligible.
	ErrNotApplicableToCart = errors.New("promo: not applicable to cart")
	// ErrBelowMinimumOrder means the eligible subtotal misses the minimum.
	ErrBelowMinimumOrder = errors.New("promo: below minimum order")
	// ErrNewCustomersOnly rejects customers with a completed payment on record.
	ErrNewCustomersOnly = errors.New("promo: new customers only")
	// ErrUsageLimitReached is the advisory global quota rejection; the
	// authoritative check is the ledger's atomic reserve.
	ErrUsageLimitReached = errors.New("promo: usage limit reached")
	// ErrPerUserLimitReached rejects customers at their per-user allowance.
	ErrPerUserLimitReached = errors.New("promo: per-user limit reached")
)

// Wire reason codes surfaced to the storefront.
const (
	ReasonAccepted               = "Accepted"
	ReasonCodeNotFound           = "CodeNotFound"
	ReasonCodeExpired            = "CodeExpired"
	ReasonCodeNotYetActive       = "CodeNotYetActive"
	ReasonNotApplicableToCart    = "NotApplicableToCart"
	ReasonBelowMinimumOrder      = "BelowMinimumOrder"
	ReasonNewCustomersOnly       = "NewCustomersOnlyRestriction"
	ReasonUsageLimitReached      = "UsageLimitReached"
	ReasonPerUserLimitReached    = "PerUserLimitReached"
	ReasonPromoNoLongerAvailable = "PromoNoLongerAvailable"
)

// Reason maps a validation rejection onto its wire reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ReasonAccepted
	case errors.Is(err, ErrCodeNotFound):
		return ReasonCodeNotFound
	case errors.Is(err, ErrCodeExpired):
		return ReasonCodeExpired
	case errors.Is(err, ErrCodeNotYetActive):
		return ReasonCodeNotYetActive
	case errors.Is(err, ErrNotApplicableToCart):
		return ReasonNotApplicableToCart
	case errors.Is(err, ErrBelowMinimumOrder):
		return ReasonBelowMinimumOrder
	case errors.Is(err, ErrNewCustomersOnly):
		return ReasonNewCustomersOnly
	case errors.Is(err, ErrUsageLimitReached):
		return ReasonUsageLimitReached
	case errors.Is(err, ErrPerUserLimitReached):
		return ReasonPerUserLimitReached
	default:
		return ""
	}
}

// IsRejection reports whether err is an expected validation rejection rather
// than an infrastructure failure.
func IsRejection(err error) bool {
	return err != nil && Reason(err) != ""
}

// Rule captures the runtime constraints of a promo code.
type Rule struct {
	ID               uuid.UUID
	Code             string
	Kind             pricing.DiscountKind
	Value            int64
	MinOrderCents    int64
	MaxDiscountCents *int64
	MaxUses          *int32
	CurrentUses      int32
	MaxUsesPerUser   int32
	AppliesToGames   bool
	AppliesToMerch   bool
	NewCustomersOnly bool
	StartsAt         time.Time
	ExpiresAt        *time.Time
	Active           bool
}

// Usage carries the per-customer counters the rule checks depend on.
type Usage struct {
	PaidOrders  int64
	Redemptions int64
}

// Discount converts the rule into the pricing engine's discount shape.
func (r Rule) Discount() pricing.Discount {
	return pricing.Discount{
		Kind:           r.Kind,
		Value:          r.Value,
		MaxDiscount:    r.MaxDiscountCents,
		AppliesToGames: r.AppliesToGames,
		AppliesToMerch: r.AppliesToMerch,
	}
}

// Evaluate runs the ordered validation checks, short-circuiting on the first
// failure so rejection reasons are deterministic. The global usage check is
// advisory; reservation is the authoritative gate.
func (r Rule) Evaluate(now time.Time, items []cart.LineItem, u Usage) error {
	if !r.Active {
		return ErrCodeNotFound
	}
	if now.Before(r.StartsAt) {
		return ErrCodeNotYetActive
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return ErrCodeExpired
	}
	// Applicability is about item kinds, not amounts: a cart whose only
	// eligible lines are zero-priced still matches the scope and falls
	// through to the minimum-order check.
	if !r.appliesToCart(items) {
		return ErrNotApplicableToCart
	}
	d := r.Discount()
	eligible := pricing.EligibleSubtotal(cart.PricingItems(items), &d)
	if r.MinOrderCents > 0 && eligible < r.MinOrderCents {
		return ErrBelowMinimumOrder
	}
	if r.NewCustomersOnly && u.PaidOrders > 0 {
		return ErrNewCustomersOnly
	}
	if r.MaxUses != nil && r.CurrentUses >= *r.MaxUses {
		return ErrUsageLimitReached
	}
	if r.MaxUsesPerUser > 0 && u.Redemptions >= int64(r.MaxUsesPerUser) {
		return ErrPerUserLimitReached
	}
	return nil
}

func (r Rule) appliesToCart(items []cart.LineItem) bool {
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		switch it.Kind {
		case pricing.KindGame:
			if r.AppliesToGames {
				return true
			}
		case pricing.KindMerch:
			if r.AppliesToMerch {
				return true
			}
		}
	}
	return false
}

// Decision is the outcome of validating a code against a cart.
type Decision struct {
	Accepted      bool      `json:"accepted"`
	Reason        string    `json:"reason"`
	PromoCodeID   uuid.UUID `json:"promoCodeId,omitempty"`
	Code          string    `json:"code,omitempty"`
	DiscountCents int64     `json:"discountCents"`
	EligibleCents int64     `json:"eligibleCents"`
	ValidatedAt   time.Time `json:"validatedAt"`
}

// Rejected builds a rejection decision for the given check failure.
func Rejected(err error, now time.Time) Decision {
	return Decision{Reason: Reason(err), ValidatedAt: now}
}
