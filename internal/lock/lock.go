// Package lock provides advisory per-item mutual exclusion for the
// remediation write phase. This package is internal and should not be
// imported by external projects.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockKeyPrefix = "audit:lock:"

// releaseScript deletes the lock only when the caller still owns it, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Manager hands out time-boxed advisory locks backed by redis SET NX. When
// redis is unreachable the caller proceeds without a lock: the content
// layer's optimistic revision check still keeps concurrent writers from
// clobbering each other, so degrading beats blocking a batch.
type Manager struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewManager(rdb *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{rdb: rdb, logger: logger.With(zap.String("component", "item_lock"))}
}

// TryAcquire attempts to take the lock for itemID with the given lease.
// ok=false means another holder owns it. An unreachable store returns
// ok=true with an empty token (proceed unlocked, best-effort).
func (m *Manager) TryAcquire(ctx context.Context, itemID string, lease time.Duration) (token string, ok bool) {
	if m.rdb == nil {
		return "", true
	}
	token = uuid.NewString()
	acquired, err := m.rdb.SetNX(ctx, lockKeyPrefix+itemID, token, lease).Result()
	if err != nil {
		m.logger.Warn("lock store unreachable, proceeding without lock",
			zap.String("item_id", itemID), zap.Error(err))
		return "", true
	}
	if !acquired {
		return "", false
	}
	return token, true
}

// Release frees the lock if the token still owns it.
func (m *Manager) Release(ctx context.Context, itemID, token string) {
	if m.rdb == nil || token == "" {
		return
	}
	if err := releaseScript.Run(ctx, m.rdb, []string{lockKeyPrefix + itemID}, token).Err(); err != nil {
		m.logger.Warn("lock release failed",
			zap.String("item_id", itemID), zap.Error(err))
	}
}

// WithLock runs fn while holding the item's lock, releasing it on every exit
// path. held=false means the lock was owned elsewhere and fn never ran.
func (m *Manager) WithLock(ctx context.Context, itemID string, lease time.Duration, fn func(ctx context.Context) error) (held bool, err error) {
	token, ok := m.TryAcquire(ctx, itemID, lease)
	if !ok {
		return false, nil
	}
	defer m.Release(ctx, itemID, token)
	return true, fn(ctx)
}
