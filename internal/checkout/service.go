package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/events"
	"github.com/pressplay/checkout-engine/internal/ledger"
	"github.com/pressplay/checkout-engine/internal/obs"
	"github.com/pressplay/checkout-engine/internal/payment"
	"github.com/pressplay/checkout-engine/internal/pricing"
	"github.com/pressplay/checkout-engine/internal/promo"
)

// Input is the checkout request payload.
type Input struct {
	Items     []cart.LineItem `json:"items" validate:"required,min=1,dive"`
	PromoCode string          `json:"promoCode" validate:"omitempty,max=64"`
}

// Output is returned from order creation and payment retry.
type Output struct {
	Order   Order `json:"order"`
	Payment struct {
		IntentID    uuid.UUID `json:"intentId"`
		Provider    string    `json:"provider"`
		Token       string    `json:"token"`
		RedirectURL string    `json:"redirectUrl"`
		ExpiresAt   time.Time `json:"expiresAt"`
	} `json:"payment"`
}

// Service orchestrates checkout: promo validation, quota reservation, pricing,
// order persistence and payment intent creation.
type Service struct {
	Orders  Store
	Promo   *promo.Service
	Ledger  *ledger.Service
	Payment *payment.Service
	Events  *events.Bus
	Params  pricing.Params
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Create runs the full checkout pipeline for a customer cart. A promo code
// that fails validation aborts checkout with the rejection reason; a code that
// validates but loses the race for the last quota slot does not abort, the
// order is re-priced without the discount and carries PromoNoLongerAvailable.
func (s *Service) Create(ctx context.Context, customerKey string, in Input) (Output, error) {
	var out Output
	if s == nil || s.Orders == nil || s.Payment == nil {
		return out, errors.New("checkout: service not configured")
	}
	if customerKey == "" {
		return out, common.NewAppError("UNAUTHORIZED", "customer identity required", http.StatusUnauthorized, nil)
	}
	if err := cart.ValidateSnapshot(in.Items); err != nil {
		return out, common.BadRequest(err.Error(), nil)
	}
	now := s.now()

	order := Order{
		ID:          uuid.New(),
		CustomerKey: customerKey,
		Status:      StatusDraft,
		Items:       cart.Clone(in.Items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var discount *pricing.Discount
	if in.PromoCode != "" {
		if s.Promo == nil || s.Ledger == nil {
			return out, errors.New("checkout: promo support not configured")
		}
		decision, err := s.Promo.Validate(ctx, in.PromoCode, in.Items, customerKey, now)
		if err != nil {
			return out, err
		}
		if !decision.Accepted {
			rejection := common.NewAppError("PROMO_REJECTED", "promo code rejected", http.StatusUnprocessableEntity, nil)
			rejection.Details = map[string]any{"reason": decision.Reason}
			return out, rejection
		}
		token, err := s.Ledger.TryReserve(ctx, decision.PromoCodeID, customerKey)
		switch {
		case err == nil:
			order.PromoCodeID = &decision.PromoCodeID
			order.PromoCode = decision.Code
			order.ReservationToken = &token
			rule, err := s.Promo.Rule(ctx, decision.Code)
			if err != nil {
				releaseErr := s.Ledger.Release(ctx, token)
				if releaseErr != nil {
					s.Logger.Error().Err(releaseErr).Msg("release_after_rule_fetch_failure")
				}
				return out, err
			}
			d := rule.Discount()
			discount = &d
		case errors.Is(err, ledger.ErrUsageLimitReached), errors.Is(err, ledger.ErrPerUserLimitReached):
			// Lost the race between validation and reservation. Proceed
			// without the discount and tell the storefront why.
			order.PromoReason = promo.ReasonPromoNoLongerAvailable
		default:
			return out, err
		}
	}

	order.Pricing = pricing.Compute(cart.PricingItems(order.Items), discount, s.Params)

	persisted, err := s.Orders.InsertOrder(ctx, order)
	if err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		return out, err
	}

	intent, err := s.Payment.CreateIntent(ctx, persisted.ID, persisted.Pricing.Total)
	if err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		if _, cancelErr := s.transition(ctx, persisted.ID, StatusDraft, StatusCancelled); cancelErr != nil {
			s.Logger.Error().Err(cancelErr).Str("order_id", persisted.ID.String()).Msg("draft_cancel_failed")
		}
		return out, fmt.Errorf("checkout: open payment intent: %w", err)
	}
	if _, err := s.transition(ctx, persisted.ID, StatusDraft, StatusPendingPayment); err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		return out, err
	}
	persisted.Status = StatusPendingPayment

	s.emit(ctx, events.TopicOrderCreated, persisted.ID, map[string]any{
		"orderId":    persisted.ID,
		"totalCents": persisted.Pricing.Total,
		"promoCode":  persisted.PromoCode,
	})

	out.Order = persisted
	out.Payment.IntentID = intent.ID
	out.Payment.Provider = intent.Provider
	out.Payment.Token = intent.Token
	out.Payment.RedirectURL = intent.RedirectURL
	out.Payment.ExpiresAt = intent.ExpiresAt
	return out, nil
}

// Get returns the order, scoped to its owning customer.
func (s *Service) Get(ctx context.Context, customerKey string, orderID uuid.UUID) (Order, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.CustomerKey != customerKey {
		// Do not leak existence of other customers' orders.
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// HandlePaymentResult applies a verified gateway outcome. Idempotent: replayed
// settlements for an already-terminal order are no-ops.
func (s *Service) HandlePaymentResult(ctx context.Context, orderID uuid.UUID, succeeded bool) error {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if succeeded {
		return s.settle(ctx, order)
	}
	return s.fail(ctx, order)
}

func (s *Service) settle(ctx context.Context, order Order) error {
	if order.Status != StatusPaid && !order.Status.CanTransitionTo(StatusPaid) {
		return common.Conflict("INVALID_TRANSITION",
			fmt.Sprintf("transition %s -> %s not allowed", order.Status, StatusPaid))
	}
	// Commit before the status flip. Replay is keyed on the stored
	// application, not on the order status, so a delivery that died between
	// the two steps is finished by the next one instead of no-opping.
	if err := s.commitDiscount(ctx, order); err != nil {
		return err
	}
	if order.Status == StatusPaid {
		return nil
	}
	moved, err := s.transition(ctx, order.ID, order.Status, StatusPaid)
	if err != nil {
		return err
	}
	if !moved {
		// Another delivery won the transition.
		return nil
	}
	s.emit(ctx, events.TopicOrderPaid, order.ID, map[string]any{
		"orderId":    order.ID,
		"totalCents": order.Pricing.Total,
	})
	return nil
}

func (s *Service) commitDiscount(ctx context.Context, order Order) error {
	if order.ReservationToken == nil || order.PromoCodeID == nil || s.Ledger == nil {
		return nil
	}
	committed, err := s.Ledger.Commit(ctx, *order.ReservationToken, ledger.Application{
		PromoCodeID:   *order.PromoCodeID,
		OrderID:       order.ID,
		CustomerKey:   order.CustomerKey,
		DiscountCents: order.Pricing.Discount,
	})
	if err != nil {
		return fmt.Errorf("checkout: commit discount: %w", err)
	}
	if committed {
		s.emit(ctx, events.TopicPromoRedeemed, order.ID, map[string]any{
			"orderId":       order.ID,
			"promoCode":     order.PromoCode,
			"discountCents": order.Pricing.Discount,
		})
	}
	return nil
}

func (s *Service) fail(ctx context.Context, order Order) error {
	if order.Status != StatusPendingPayment {
		return nil
	}
	moved, err := s.transition(ctx, order.ID, StatusPendingPayment, StatusPaymentFailed)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	// Hand the slot back immediately; a retry will re-reserve.
	if order.ReservationToken != nil && s.Ledger != nil {
		if err := s.Ledger.Release(ctx, *order.ReservationToken); err != nil {
			return err
		}
		order.ReservationToken = nil
		if err := s.Orders.UpdateCheckoutState(ctx, order); err != nil {
			return err
		}
		s.emit(ctx, events.TopicPromoReleased, order.ID, map[string]any{
			"orderId":   order.ID,
			"promoCode": order.PromoCode,
		})
	}
	s.emit(ctx, events.TopicPaymentFailed, order.ID, map[string]any{"orderId": order.ID})
	return nil
}

// PaymentStatus returns the latest payment intent for a customer's order.
func (s *Service) PaymentStatus(ctx context.Context, customerKey string, orderID uuid.UUID) (payment.Intent, error) {
	if _, err := s.Get(ctx, customerKey, orderID); err != nil {
		return payment.Intent{}, err
	}
	return s.Payment.Store.GetLatestIntentByOrder(ctx, orderID)
}

// RetryPayment re-opens payment for a failed order, exactly once. The promo
// quota is re-reserved; if the slot is gone the order is re-priced without the
// discount before the new intent is created.
func (s *Service) RetryPayment(ctx context.Context, customerKey string, orderID uuid.UUID) (Output, error) {
	var out Output
	order, err := s.Get(ctx, customerKey, orderID)
	if err != nil {
		return out, err
	}
	if order.Status != StatusPaymentFailed {
		return out, common.Conflict("INVALID_TRANSITION",
			fmt.Sprintf("cannot retry payment from status %s", order.Status))
	}
	if order.RetryCount >= 1 {
		return out, common.Conflict("RETRY_EXHAUSTED", ErrRetryExhausted.Error())
	}

	if order.PromoCodeID != nil && s.Ledger != nil {
		token, err := s.Ledger.TryReserve(ctx, *order.PromoCodeID, customerKey)
		switch {
		case err == nil:
			order.ReservationToken = &token
		case errors.Is(err, ledger.ErrUsageLimitReached), errors.Is(err, ledger.ErrPerUserLimitReached):
			order.PromoCodeID = nil
			order.PromoCode = ""
			order.ReservationToken = nil
			order.PromoReason = promo.ReasonPromoNoLongerAvailable
			order.Pricing = pricing.Compute(cart.PricingItems(order.Items), nil, s.Params)
		default:
			return out, err
		}
	}

	order.RetryCount++
	order.UpdatedAt = s.now()
	if err := s.Orders.UpdateCheckoutState(ctx, order); err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		return out, err
	}

	intent, err := s.Payment.CreateIntent(ctx, order.ID, order.Pricing.Total)
	if err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		return out, fmt.Errorf("checkout: open payment intent: %w", err)
	}
	if _, err := s.transition(ctx, order.ID, StatusPaymentFailed, StatusPendingPayment); err != nil {
		s.releaseIfReserved(ctx, order.ReservationToken)
		return out, err
	}
	order.Status = StatusPendingPayment

	out.Order = order
	out.Payment.IntentID = intent.ID
	out.Payment.Provider = intent.Provider
	out.Payment.Token = intent.Token
	out.Payment.RedirectURL = intent.RedirectURL
	out.Payment.ExpiresAt = intent.ExpiresAt
	return out, nil
}

// Cancel moves the order to cancelled and releases any held reservation.
func (s *Service) Cancel(ctx context.Context, customerKey string, orderID uuid.UUID) (Order, error) {
	order, err := s.Get(ctx, customerKey, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == StatusCancelled {
		return order, nil
	}
	if !order.Status.CanTransitionTo(StatusCancelled) {
		return Order{}, common.Conflict("INVALID_TRANSITION",
			fmt.Sprintf("cannot cancel order in status %s", order.Status))
	}
	moved, err := s.transition(ctx, order.ID, order.Status, StatusCancelled)
	if err != nil {
		return Order{}, err
	}
	if moved && order.ReservationToken != nil && s.Ledger != nil {
		if err := s.Ledger.Release(ctx, *order.ReservationToken); err != nil {
			return Order{}, err
		}
		order.ReservationToken = nil
		if err := s.Orders.UpdateCheckoutState(ctx, order); err != nil {
			return Order{}, err
		}
		s.emit(ctx, events.TopicPromoReleased, order.ID, map[string]any{
			"orderId":   order.ID,
			"promoCode": order.PromoCode,
		})
	}
	order.Status = StatusCancelled
	s.emit(ctx, events.TopicOrderCanceled, order.ID, map[string]any{"orderId": order.ID})
	return order, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, common.Conflict("INVALID_TRANSITION",
			fmt.Sprintf("transition %s -> %s not allowed", from, to))
	}
	moved, err := s.Orders.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return false, err
	}
	if moved && obs.CheckoutTransitionsTotal != nil {
		obs.CheckoutTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	return moved, nil
}

func (s *Service) releaseIfReserved(ctx context.Context, token *uuid.UUID) {
	if token == nil || s.Ledger == nil {
		return
	}
	if err := s.Ledger.Release(ctx, *token); err != nil {
		s.Logger.Error().Err(err).Str("token", token.String()).Msg("reservation_release_failed")
	}
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Msg("event_emit_failed")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
