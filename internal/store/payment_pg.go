package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressplay/checkout-engine/internal/payment"
)

// PaymentRepo persists payment intents, one row per gateway session.
type PaymentRepo struct {
	DB *pgxpool.Pool
}

var _ payment.IntentStore = (*PaymentRepo)(nil)

func (r *PaymentRepo) InsertIntent(ctx context.Context, intent payment.Intent) (payment.Intent, error) {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO payment_intents (id, order_id, provider, token, redirect_url, amount_cents, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		intent.ID, intent.OrderID, intent.Provider, intent.Token, intent.RedirectURL,
		intent.AmountCents, intent.Status, intent.ExpiresAt,
	).Scan(&intent.CreatedAt)
	if err != nil {
		return payment.Intent{}, err
	}
	return intent, nil
}

func (r *PaymentRepo) GetLatestIntentByOrder(ctx context.Context, orderID uuid.UUID) (payment.Intent, error) {
	var intent payment.Intent
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, provider, token, redirect_url, amount_cents, status, expires_at, created_at
		FROM payment_intents
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID).Scan(
		&intent.ID, &intent.OrderID, &intent.Provider, &intent.Token, &intent.RedirectURL,
		&intent.AmountCents, &intent.Status, &intent.ExpiresAt, &intent.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	if err != nil {
		return payment.Intent{}, err
	}
	return intent, nil
}

func (r *PaymentRepo) UpdateIntentStatus(ctx context.Context, id uuid.UUID, status payment.Status, payload []byte) error {
	var providerPayload any
	if len(payload) > 0 {
		providerPayload = payload
	}
	tag, err := r.DB.Exec(ctx, `
		UPDATE payment_intents
		SET status = $2, provider_payload = COALESCE($3, provider_payload), updated_at = now()
		WHERE id = $1`, id, status, providerPayload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrIntentNotFound
	}
	return nil
}
