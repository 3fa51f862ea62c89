package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressplay/checkout-engine/internal/promo"
)

// PromoRepo serves the validator's advisory reads. Lookups are
// case-insensitive via the functional unique index on LOWER(code).
type PromoRepo struct {
	DB *pgxpool.Pool
}

var _ promo.Querier = (*PromoRepo)(nil)

func (r *PromoRepo) GetRuleByCode(ctx context.Context, code string) (promo.Rule, error) {
	var rule promo.Rule
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, kind, value, min_order_cents, max_discount_cents,
		       max_uses, current_uses, max_uses_per_user,
		       applies_to_games, applies_to_merch, new_customers_only,
		       starts_at, expires_at, active
		FROM promo_codes
		WHERE LOWER(code) = LOWER($1)`, code).Scan(
		&rule.ID, &rule.Code, &rule.Kind, &rule.Value, &rule.MinOrderCents, &rule.MaxDiscountCents,
		&rule.MaxUses, &rule.CurrentUses, &rule.MaxUsesPerUser,
		&rule.AppliesToGames, &rule.AppliesToMerch, &rule.NewCustomersOnly,
		&rule.StartsAt, &rule.ExpiresAt, &rule.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.Rule{}, promo.ErrNotFound
	}
	if err != nil {
		return promo.Rule{}, err
	}
	return rule, nil
}

func (r *PromoRepo) CountRedemptionsByCustomer(ctx context.Context, promoCodeID uuid.UUID, customerKey string) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM discount_applications
		WHERE promo_code_id = $1 AND customer_key = $2`, promoCodeID, customerKey).Scan(&n)
	return n, err
}

func (r *PromoRepo) CountPaidOrdersByCustomer(ctx context.Context, customerKey string) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE customer_key = $1 AND status = 'paid'`, customerKey).Scan(&n)
	return n, err
}
