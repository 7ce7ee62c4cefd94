package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewManager(rdb, zap.NewNop()), srv
}

func TestTryAcquireAndRelease(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, ok := m.TryAcquire(ctx, "item-1", time.Minute)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok = m.TryAcquire(ctx, "item-1", time.Minute)
	assert.False(t, ok, "second acquisition must fail while held")

	m.Release(ctx, "item-1", token)
	_, ok = m.TryAcquire(ctx, "item-1", time.Minute)
	assert.True(t, ok, "lock must be free after release")
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, ok := m.TryAcquire(ctx, "item-1", time.Minute)
	require.True(t, ok)

	m.Release(ctx, "item-1", "not-my-token")
	_, ok = m.TryAcquire(ctx, "item-1", time.Minute)
	assert.False(t, ok, "a foreign token must not release the lock")

	m.Release(ctx, "item-1", token)
}

func TestLeaseExpires(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()

	_, ok := m.TryAcquire(ctx, "item-1", time.Minute)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)
	_, ok = m.TryAcquire(ctx, "item-1", time.Minute)
	assert.True(t, ok, "expired lease must be acquirable")
}

func TestWithLockRunsAndReleases(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ran := false
	held, err := m.WithLock(ctx, "item-1", time.Minute, func(context.Context) error {
		ran = true
		// The lock is held inside the callback.
		_, ok := m.TryAcquire(ctx, "item-1", time.Minute)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, ran)

	_, ok := m.TryAcquire(ctx, "item-1", time.Minute)
	assert.True(t, ok, "lock must be released after the callback")
}

func TestWithLockContention(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, srv.Set("audit:lock:item-1", "other-worker"))

	ran := false
	held, err := m.WithLock(ctx, "item-1", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, ran, "callback must not run without the lock")
}

func TestUnreachableStoreProceedsUnlocked(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()
	srv.Close()

	token, ok := m.TryAcquire(ctx, "item-1", time.Minute)
	assert.True(t, ok, "an unreachable store degrades to unlocked")
	assert.Empty(t, token)

	held, err := m.WithLock(ctx, "item-1", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, held)
}

func TestNilClientProceedsUnlocked(t *testing.T) {
	m := NewManager(nil, nil)
	held, err := m.WithLock(context.Background(), "item-1", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, held)
}
