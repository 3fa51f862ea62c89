package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Quota mirrors the mutable usage state of one promo code.
type Quota struct {
	MaxUses        *int32
	CurrentUses    int32
	MaxUsesPerUser int32
}

// MemStore is a mutex-guarded in-memory Store. The conditional increment in
// ReserveUse runs entirely under the lock, which is the in-process equivalent
// of the database's conditional UPDATE.
type MemStore struct {
	mu           sync.Mutex
	quotas       map[uuid.UUID]*Quota
	reservations map[uuid.UUID]Reservation
	applications map[uuid.UUID]Application // keyed by order id
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		quotas:       map[uuid.UUID]*Quota{},
		reservations: map[uuid.UUID]Reservation{},
		applications: map[uuid.UUID]Application{},
	}
}

// PutQuota registers or replaces the usage state for a code.
func (m *MemStore) PutQuota(promoCodeID uuid.UUID, q Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := q
	m.quotas[promoCodeID] = &copied
}

// CurrentUses reports the live counter, for tests and diagnostics.
func (m *MemStore) CurrentUses(promoCodeID uuid.UUID) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quotas[promoCodeID]; ok {
		return q.CurrentUses
	}
	return 0
}

// PerUserLimit returns the per-customer allowance for a code.
func (m *MemStore) PerUserLimit(_ context.Context, promoCodeID uuid.UUID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[promoCodeID]
	if !ok {
		return 0, ErrUnknownPromoCode
	}
	return q.MaxUsesPerUser, nil
}

// ReserveUse increments the counter iff a slot remains, after reclaiming any
// expired reservations for the code, and enforces the per-user allowance
// against held reservations plus committed applications.
func (m *MemStore) ReserveUse(_ context.Context, res Reservation, perUserLimit int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[res.PromoCodeID]
	if !ok {
		return ErrUnknownPromoCode
	}
	m.reapLocked(res.PromoCodeID, res.CreatedAt)
	if q.MaxUses != nil && q.CurrentUses >= *q.MaxUses {
		return ErrUsageLimitReached
	}
	if perUserLimit > 0 && m.heldByCustomerLocked(res.PromoCodeID, res.CustomerKey) >= int64(perUserLimit) {
		return ErrPerUserLimitReached
	}
	q.CurrentUses++
	m.reservations[res.Token] = res
	return nil
}

// ReleaseUse decrements the counter and discards the reservation.
func (m *MemStore) ReleaseUse(_ context.Context, token uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[token]
	if !ok {
		return ErrReservationNotFound
	}
	delete(m.reservations, token)
	if q, ok := m.quotas[res.PromoCodeID]; ok && q.CurrentUses > 0 {
		q.CurrentUses--
	}
	return nil
}

// CommitUse converts the reservation into a durable application. The counter
// stays incremented; the reservation row is retired.
func (m *MemStore) CommitUse(_ context.Context, token uuid.UUID, app Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[app.OrderID]; ok {
		return nil
	}
	if _, ok := m.reservations[token]; !ok {
		return ErrReservationNotFound
	}
	delete(m.reservations, token)
	m.applications[app.OrderID] = app
	return nil
}

// GetApplicationByOrder looks up a committed application.
func (m *MemStore) GetApplicationByOrder(_ context.Context, orderID uuid.UUID) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[orderID]
	if !ok {
		return Application{}, ErrApplicationNotFound
	}
	return app, nil
}

// ReleaseExpired reclaims up to limit reservations whose TTL elapsed.
func (m *MemStore) ReleaseExpired(_ context.Context, cutoff time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for token, res := range m.reservations {
		if released >= limit {
			break
		}
		if res.ExpiresAt.After(cutoff) {
			continue
		}
		delete(m.reservations, token)
		if q, ok := m.quotas[res.PromoCodeID]; ok && q.CurrentUses > 0 {
			q.CurrentUses--
		}
		released++
	}
	return released, nil
}

// ApplicationCount reports committed applications for a code and customer.
func (m *MemStore) ApplicationCount(promoCodeID uuid.UUID, customerKey string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, app := range m.applications {
		if app.PromoCodeID == promoCodeID && app.CustomerKey == customerKey {
			n++
		}
	}
	return n
}

func (m *MemStore) heldByCustomerLocked(promoCodeID uuid.UUID, customerKey string) int64 {
	var n int64
	for _, res := range m.reservations {
		if res.PromoCodeID == promoCodeID && res.CustomerKey == customerKey {
			n++
		}
	}
	for _, app := range m.applications {
		if app.PromoCodeID == promoCodeID && app.CustomerKey == customerKey {
			n++
		}
	}
	return n
}

func (m *MemStore) reapLocked(promoCodeID uuid.UUID, now time.Time) {
	q := m.quotas[promoCodeID]
	for token, res := range m.reservations {
		if res.PromoCodeID != promoCodeID || res.ExpiresAt.After(now) {
			continue
		}
		delete(m.reservations, token)
		if q != nil && q.CurrentUses > 0 {
			q.CurrentUses--
		}
	}
}
