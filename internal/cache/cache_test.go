package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(rdb, time.Hour, nil, zap.NewNop()), srv
}

func TestPutGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, hit := c.Get(ctx, "rubric", "fp1")
	assert.False(t, hit)

	c.Put(ctx, "rubric", "fp1", `{"score": 7}`)
	got, hit := c.Get(ctx, "rubric", "fp1")
	assert.True(t, hit)
	assert.Equal(t, `{"score": 7}`, got)
}

func TestKeysAreScopedPerReviewer(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "rubric", "fp1", "rubric answer")
	_, hit := c.Get(ctx, "seo_reviewer", "fp1")
	assert.False(t, hit, "same fingerprint under another reviewer must miss")
}

func TestEntriesExpire(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "rubric", "fp1", "answer")
	srv.FastForward(2 * time.Hour)
	_, hit := c.Get(ctx, "rubric", "fp1")
	assert.False(t, hit)
}

func TestUnreachableStoreReadsAsMiss(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "rubric", "fp1", "answer")
	srv.Close()

	_, hit := c.Get(ctx, "rubric", "fp1")
	assert.False(t, hit)
	// Writes must stay silent too.
	c.Put(ctx, "rubric", "fp2", "answer")
}

func TestNilClientAlwaysMisses(t *testing.T) {
	c := New(nil, time.Hour, nil, nil)
	ctx := context.Background()

	c.Put(ctx, "rubric", "fp1", "answer")
	_, hit := c.Get(ctx, "rubric", "fp1")
	assert.False(t, hit)
}
