package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressplay/checkout-engine/internal/cart"
	"github.com/pressplay/checkout-engine/internal/checkout"
)

// OrderRepo persists orders with the cart snapshot frozen as JSONB and the
// pricing summary denormalized into cent columns.
type OrderRepo struct {
	DB *pgxpool.Pool
}

var _ checkout.Store = (*OrderRepo)(nil)

const orderColumns = `
	id, customer_key, status, items,
	promo_code_id, promo_code, promo_reason, reservation_token,
	subtotal_cents, eligible_cents, discount_cents, shipping_cents, tax_cents, total_cents,
	retry_count, created_at, updated_at`

func (r *OrderRepo) InsertOrder(ctx context.Context, o checkout.Order) (checkout.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return checkout.Order{}, fmt.Errorf("store: encode order items: %w", err)
	}
	err = r.DB.QueryRow(ctx, `
		INSERT INTO orders (
			id, customer_key, status, items,
			promo_code_id, promo_code, promo_reason, reservation_token,
			subtotal_cents, eligible_cents, discount_cents, shipping_cents, tax_cents, total_cents,
			retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		o.ID, o.CustomerKey, o.Status, items,
		o.PromoCodeID, o.PromoCode, o.PromoReason, o.ReservationToken,
		o.Pricing.Subtotal, o.Pricing.Eligible, o.Pricing.Discount,
		o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Total,
		o.RetryCount,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return checkout.Order{}, err
	}
	return o, nil
}

func (r *OrderRepo) GetOrder(ctx context.Context, id uuid.UUID) (checkout.Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkout.Order{}, checkout.ErrOrderNotFound
	}
	return o, err
}

func (r *OrderRepo) ListOrdersByCustomer(ctx context.Context, customerKey string, limit int) ([]checkout.Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE customer_key = $1
		ORDER BY created_at DESC
		LIMIT $2`, customerKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []checkout.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// TransitionStatus moves the order only when its stored status still equals
// from. A lost race reports moved=false, never an error.
func (r *OrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to checkout.Status) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateCheckoutState rewrites the mutable checkout fields. Status is owned
// by TransitionStatus and is deliberately not touched here.
func (r *OrderRepo) UpdateCheckoutState(ctx context.Context, o checkout.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("store: encode order items: %w", err)
	}
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET
			items = $2,
			promo_code_id = $3, promo_code = $4, promo_reason = $5, reservation_token = $6,
			subtotal_cents = $7, eligible_cents = $8, discount_cents = $9,
			shipping_cents = $10, tax_cents = $11, total_cents = $12,
			retry_count = $13,
			updated_at = now()
		WHERE id = $1`,
		o.ID, items,
		o.PromoCodeID, o.PromoCode, o.PromoReason, o.ReservationToken,
		o.Pricing.Subtotal, o.Pricing.Eligible, o.Pricing.Discount,
		o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Total,
		o.RetryCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (checkout.Order, error) {
	var (
		o     checkout.Order
		items []byte
	)
	err := row.Scan(
		&o.ID, &o.CustomerKey, &o.Status, &items,
		&o.PromoCodeID, &o.PromoCode, &o.PromoReason, &o.ReservationToken,
		&o.Pricing.Subtotal, &o.Pricing.Eligible, &o.Pricing.Discount,
		&o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Total,
		&o.RetryCount, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return checkout.Order{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return checkout.Order{}, fmt.Errorf("store: decode order items: %w", err)
		}
	} else {
		o.Items = []cart.LineItem{}
	}
	return o, nil
}
