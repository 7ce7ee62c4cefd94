// Package fallback wraps the model execution gateway with an ordered
// fallback chain and a shared provider-unavailable flag store that models
// daily quota resets.
package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const flagKeyPrefix = "llm:flag:unavail:"

// FlagStore tracks per-provider unavailability with an expiry. Setting the
// flag records that a quota or rate-limit failure was observed; readers skip
// flagged providers until the flag expires.
type FlagStore interface {
	// Set marks a provider unavailable for ttl.
	Set(ctx context.Context, provider string, ttl time.Duration)

	// IsSet reports whether the provider is currently flagged.
	IsSet(ctx context.Context, provider string) bool
}

// MemoryFlagStore is a process-local FlagStore.
type MemoryFlagStore struct {
	mu      sync.RWMutex
	expires map[string]time.Time
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{expires: make(map[string]time.Time)}
}

func (s *MemoryFlagStore) Set(_ context.Context, provider string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[provider] = time.Now().Add(ttl)
}

func (s *MemoryFlagStore) IsSet(_ context.Context, provider string) bool {
	s.mu.RLock()
	deadline, ok := s.expires[provider]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		s.mu.Lock()
		delete(s.expires, provider)
		s.mu.Unlock()
		return false
	}
	return true
}

// RedisFlagStore shares flags across workers through redis, mirroring every
// write into an in-memory store so semantics degrade to process-local when
// redis is unreachable.
type RedisFlagStore struct {
	rdb    *redis.Client
	local  *MemoryFlagStore
	logger *zap.Logger
}

func NewRedisFlagStore(rdb *redis.Client, logger *zap.Logger) *RedisFlagStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFlagStore{
		rdb:    rdb,
		local:  NewMemoryFlagStore(),
		logger: logger.With(zap.String("component", "provider_flags")),
	}
}

func (s *RedisFlagStore) Set(ctx context.Context, provider string, ttl time.Duration) {
	s.local.Set(ctx, provider, ttl)
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, flagKeyPrefix+provider, "1", ttl).Err(); err != nil {
		s.logger.Warn("failed to persist provider-unavailable flag",
			zap.String("provider", provider), zap.Error(err))
	}
}

func (s *RedisFlagStore) IsSet(ctx context.Context, provider string) bool {
	if s.local.IsSet(ctx, provider) {
		return true
	}
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, flagKeyPrefix+provider).Result()
	if err != nil {
		// Unreachable store reads as unflagged; the local mirror still
		// covers flags set by this process.
		s.logger.Debug("flag read failed", zap.String("provider", provider), zap.Error(err))
		return false
	}
	return n > 0
}
