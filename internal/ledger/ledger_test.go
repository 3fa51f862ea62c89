package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestService(store Store) *Service {
	return &Service{
		Store:          store,
		ReservationTTL: 15 * time.Minute,
		Logger:         zerolog.Nop(),
	}
}

func int32Ptr(v int32) *int32 { return &v }

func TestTryReserveConcurrentQuota(t *testing.T) {
	const maxUses, attempts = 5, 40

	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(maxUses), MaxUsesPerUser: 1})
	svc := newTestService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, limited int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.TryReserve(context.Background(), promoID, fmt.Sprintf("cust-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				ok++
			case ErrUsageLimitReached:
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, maxUses, ok)
	require.Equal(t, attempts-maxUses, limited)
	require.EqualValues(t, maxUses, store.CurrentUses(promoID))
}

func TestReleaseReturnsSlot(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(1)})
	svc := newTestService(store)

	token, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)

	_, err = svc.TryReserve(context.Background(), promoID, "cust-b")
	require.ErrorIs(t, err, ErrUsageLimitReached)

	require.NoError(t, svc.Release(context.Background(), token))
	require.EqualValues(t, 0, store.CurrentUses(promoID))

	_, err = svc.TryReserve(context.Background(), promoID, "cust-b")
	require.NoError(t, err)

	// Releasing an already-released token is a no-op.
	require.NoError(t, svc.Release(context.Background(), token))
	require.EqualValues(t, 1, store.CurrentUses(promoID))
}

func TestCommitIdempotentOnOrder(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(3)})
	svc := newTestService(store)

	token, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)

	app := Application{
		PromoCodeID:   promoID,
		OrderID:       uuid.New(),
		CustomerKey:   "cust-a",
		DiscountCents: 1200,
	}
	committed, err := svc.Commit(context.Background(), token, app)
	require.NoError(t, err)
	require.True(t, committed)

	replayed, err := svc.Commit(context.Background(), token, app)
	require.NoError(t, err)
	require.False(t, replayed)

	got, err := store.GetApplicationByOrder(context.Background(), app.OrderID)
	require.NoError(t, err)
	require.Equal(t, app.DiscountCents, got.DiscountCents)
	require.EqualValues(t, 1, store.CurrentUses(promoID))
	require.EqualValues(t, 1, store.ApplicationCount(promoID, "cust-a"))
}

func TestCommitUnknownTokenFails(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{})
	svc := newTestService(store)

	_, err := svc.Commit(context.Background(), uuid.New(), Application{
		PromoCodeID: promoID,
		OrderID:     uuid.New(),
		CustomerKey: "cust-a",
	})
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestReserveUnknownCode(t *testing.T) {
	store := NewMemStore()
	svc := newTestService(store)

	_, err := svc.TryReserve(context.Background(), uuid.New(), "cust-a")
	require.ErrorIs(t, err, ErrUnknownPromoCode)

	_, err = store.PerUserLimit(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrUnknownPromoCode)
}

func TestPerUserLimitCountsReservationsAndApplications(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUsesPerUser: 1})
	svc := newTestService(store)

	token, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)

	// A concurrent second checkout by the same customer is blocked while the
	// first reservation is alive.
	_, err = svc.TryReserve(context.Background(), promoID, "cust-a")
	require.ErrorIs(t, err, ErrPerUserLimitReached)

	_, err = svc.Commit(context.Background(), token, Application{
		PromoCodeID: promoID,
		OrderID:     uuid.New(),
		CustomerKey: "cust-a",
	})
	require.NoError(t, err)

	// Committed applications keep counting against the allowance.
	_, err = svc.TryReserve(context.Background(), promoID, "cust-a")
	require.ErrorIs(t, err, ErrPerUserLimitReached)

	// Other customers are unaffected.
	_, err = svc.TryReserve(context.Background(), promoID, "cust-b")
	require.NoError(t, err)
}

func TestPerUserLimitConcurrentSameCustomer(t *testing.T) {
	const attempts = 20

	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUsesPerUser: 1})
	svc := newTestService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, blocked int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TryReserve(context.Background(), promoID, "cust-a")
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				ok++
			case ErrPerUserLimitReached:
				blocked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, attempts-1, blocked)
}

func TestSweepReclaimsExpiredReservations(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(2)})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc := newTestService(store)
	svc.Now = func() time.Time { return clock }
	svc.ReservationTTL = 10 * time.Minute

	_, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)
	_, err = svc.TryReserve(context.Background(), promoID, "cust-b")
	require.NoError(t, err)

	_, err = svc.TryReserve(context.Background(), promoID, "cust-c")
	require.ErrorIs(t, err, ErrUsageLimitReached)

	clock = base.Add(11 * time.Minute)
	released, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, released)
	require.EqualValues(t, 0, store.CurrentUses(promoID))

	_, err = svc.TryReserve(context.Background(), promoID, "cust-c")
	require.NoError(t, err)
}

func TestReserveLazyReleasesExpired(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(1)})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc := newTestService(store)
	svc.Now = func() time.Time { return clock }
	svc.ReservationTTL = 5 * time.Minute

	_, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)

	// No sweep has run, but the reserve path reclaims the stale slot itself.
	clock = base.Add(6 * time.Minute)
	_, err = svc.TryReserve(context.Background(), promoID, "cust-b")
	require.NoError(t, err)
}

func TestCommitAfterSweepFails(t *testing.T) {
	store := NewMemStore()
	promoID := uuid.New()
	store.PutQuota(promoID, Quota{MaxUses: int32Ptr(1)})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc := newTestService(store)
	svc.Now = func() time.Time { return clock }
	svc.ReservationTTL = 5 * time.Minute

	token, err := svc.TryReserve(context.Background(), promoID, "cust-a")
	require.NoError(t, err)

	clock = base.Add(6 * time.Minute)
	_, err = svc.Sweep(context.Background())
	require.NoError(t, err)

	_, err = svc.Commit(context.Background(), token, Application{
		PromoCodeID: promoID,
		OrderID:     uuid.New(),
		CustomerKey: "cust-a",
	})
	require.ErrorIs(t, err, ErrReservationNotFound)
}
