// Package cache provides the reviewer response cache. This package is
// internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/internal/metrics"
)

const keyPrefix = "audit:resp:"

// Config tunes the response cache.
type Config struct {
	// Addr is the redis address. Empty disables the cache entirely.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// TTL is how long a cached reviewer response lives. Defaults to 24h.
	TTL time.Duration `yaml:"ttl"`
}

func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",
		TTL:  24 * time.Hour,
	}
}

// ResponseCache stores raw reviewer output keyed by (reviewer id, content
// fingerprint). All failure modes read as misses: an unavailable cache makes
// evaluations slower and costlier, never wrong.
type ResponseCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New builds a cache around an existing redis client. A nil client yields a
// cache that always misses.
func New(rdb *redis.Client, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResponseCache{
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "response_cache")),
		metrics: collector,
	}
}

func key(reviewerID, fp string) string {
	return keyPrefix + reviewerID + ":" + fp
}

// Get returns the cached response for (reviewerID, fingerprint). Errors are
// logged and reported as misses, never propagated.
func (c *ResponseCache) Get(ctx context.Context, reviewerID, fp string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key(reviewerID, fp)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("reviewer", reviewerID), zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.WithLabelValues(reviewerID).Inc()
		}
		return "", false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(reviewerID).Inc()
	}
	return val, true
}

// Put stores a response best-effort; a failed write never fails the caller.
func (c *ResponseCache) Put(ctx context.Context, reviewerID, fp, text string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key(reviewerID, fp), text, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("reviewer", reviewerID), zap.Error(err))
	}
}
