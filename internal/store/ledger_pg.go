package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressplay/checkout-engine/internal/ledger"
)

// LedgerRepo is the Postgres discount ledger. All quota mutations run inside
// a transaction that row-locks the promo code, so the conditional increment,
// the per-user count and the expired-reservation reap observe one consistent
// snapshot.
type LedgerRepo struct {
	DB *pgxpool.Pool

	// DefaultPerUserLimit substitutes for codes whose max_uses_per_user is
	// unset. Zero disables the substitution.
	DefaultPerUserLimit int32
}

var _ ledger.Store = (*LedgerRepo)(nil)

func (r *LedgerRepo) ReserveUse(ctx context.Context, res ledger.Reservation, perUserLimit int32) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize all reservations for this code behind the row lock.
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT TRUE FROM promo_codes WHERE id = $1 FOR UPDATE`, res.PromoCodeID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownPromoCode, res.PromoCodeID)
	}
	if err != nil {
		return err
	}

	// Orphaned reservations must not lock out a slot forever: reap anything
	// past its TTL for this code before deciding.
	if err := reapExpiredLocked(ctx, tx, res.PromoCodeID, res.CreatedAt); err != nil {
		return err
	}

	if perUserLimit > 0 {
		var held int64
		err = tx.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM discount_reservations
				 WHERE promo_code_id = $1 AND customer_key = $2 AND expires_at > $3)
				+
				(SELECT COUNT(*) FROM discount_applications
				 WHERE promo_code_id = $1 AND customer_key = $2)`,
			res.PromoCodeID, res.CustomerKey, res.CreatedAt).Scan(&held)
		if err != nil {
			return err
		}
		if held >= int64(perUserLimit) {
			return ledger.ErrPerUserLimitReached
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE promo_codes
		SET current_uses = current_uses + 1, updated_at = now()
		WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`, res.PromoCodeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrUsageLimitReached
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO discount_reservations (token, promo_code_id, customer_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		res.Token, res.PromoCodeID, res.CustomerKey, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *LedgerRepo) ReleaseUse(ctx context.Context, token uuid.UUID) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var promoCodeID uuid.UUID
	err = tx.QueryRow(ctx, `
		DELETE FROM discount_reservations WHERE token = $1
		RETURNING promo_code_id`, token).Scan(&promoCodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrReservationNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE promo_codes
		SET current_uses = GREATEST(current_uses - 1, 0), updated_at = now()
		WHERE id = $1`, promoCodeID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *LedgerRepo) CommitUse(ctx context.Context, token uuid.UUID, app ledger.Application) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The reservation is retired but its use stays counted; the committed
	// application now owns the slot.
	var promoCodeID uuid.UUID
	err = tx.QueryRow(ctx, `
		DELETE FROM discount_reservations WHERE token = $1
		RETURNING promo_code_id`, token).Scan(&promoCodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrReservationNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO discount_applications (order_id, promo_code_id, customer_key, discount_cents, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		app.OrderID, app.PromoCodeID, app.CustomerKey, app.DiscountCents, app.AppliedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *LedgerRepo) GetApplicationByOrder(ctx context.Context, orderID uuid.UUID) (ledger.Application, error) {
	var app ledger.Application
	err := r.DB.QueryRow(ctx, `
		SELECT order_id, promo_code_id, customer_key, discount_cents, applied_at
		FROM discount_applications
		WHERE order_id = $1`, orderID).Scan(
		&app.OrderID, &app.PromoCodeID, &app.CustomerKey, &app.DiscountCents, &app.AppliedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Application{}, ledger.ErrApplicationNotFound
	}
	if err != nil {
		return ledger.Application{}, err
	}
	return app, nil
}

func (r *LedgerRepo) ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED keeps concurrent sweepers and in-flight reserves from
	// stalling each other.
	rows, err := tx.Query(ctx, `
		DELETE FROM discount_reservations
		WHERE token IN (
			SELECT token FROM discount_reservations
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING promo_code_id`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	perCode := map[uuid.UUID]int{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		perCode[id]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	released := 0
	for id, n := range perCode {
		if _, err := tx.Exec(ctx, `
			UPDATE promo_codes
			SET current_uses = GREATEST(current_uses - $2, 0), updated_at = now()
			WHERE id = $1`, id, n); err != nil {
			return 0, err
		}
		released += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return released, nil
}

func (r *LedgerRepo) PerUserLimit(ctx context.Context, promoCodeID uuid.UUID) (int32, error) {
	var limit int32
	err := r.DB.QueryRow(ctx, `
		SELECT max_uses_per_user FROM promo_codes WHERE id = $1`, promoCodeID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ledger.ErrUnknownPromoCode, promoCodeID)
	}
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = r.DefaultPerUserLimit
	}
	return limit, nil
}

// reapExpiredLocked deletes this code's expired reservations and returns
// their slots. Caller must hold the promo code row lock.
func reapExpiredLocked(ctx context.Context, tx pgx.Tx, promoCodeID uuid.UUID, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM discount_reservations
		WHERE promo_code_id = $1 AND expires_at <= $2`, promoCodeID, now)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE promo_codes
			SET current_uses = GREATEST(current_uses - $2, 0), updated_at = now()
			WHERE id = $1`, promoCodeID, n)
	}
	return err
}
