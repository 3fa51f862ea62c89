package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pressplay/checkout-engine/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockRunsCallback(t *testing.T) {
	locker := newLocker(t)
	ran := false
	err := locker.WithLock(context.Background(), "sweep", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	// The lock is released afterwards, so a second call succeeds immediately.
	err = locker.WithLock(context.Background(), "sweep", time.Second, func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestTryLockLosesWhenHeld(t *testing.T) {
	locker := newLocker(t)
	require.NoError(t, locker.R.Set(context.Background(), "sweep", "other-holder", time.Minute).Err())

	won, err := locker.TryLock(context.Background(), "sweep", time.Second, func(context.Context) error {
		t.Fatal("callback must not run when the lock is held elsewhere")
		return nil
	})
	require.NoError(t, err)
	require.False(t, won)
}

func TestWithLockHonorsContextCancellation(t *testing.T) {
	locker := newLocker(t)
	require.NoError(t, locker.R.Set(context.Background(), "sweep", "other-holder", time.Minute).Err())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "sweep", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
