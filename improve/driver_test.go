package improve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/donlaur/Engify-AI-App-sub000/audit"
	"github.com/donlaur/Engify-AI-App-sub000/content"
	"github.com/donlaur/Engify-AI-App-sub000/internal/lock"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

const generatedBody = "This regenerated body explains the technique end to end, walks through a concrete example, and closes with the checks to run before shipping the result."

// groupRunner answers each field-group prompt with valid JSON. Groups listed
// in fail return an error instead.
type groupRunner struct {
	fail map[string]bool
}

func (r *groupRunner) Execute(_ context.Context, _ fallback.Target, spec fallback.Spec) (string, error) {
	switch {
	case strings.Contains(spec.Prompt, "SEO metadata"):
		if r.fail["seo"] {
			return "", errors.New("seo generation failed")
		}
		return `{"slug": "Code Review Checklist!", "meta_description": "A structured review prompt.", "keywords": ["review", "prompt"]}`, nil
	case strings.Contains(spec.Prompt, "enrichment material"):
		if r.fail["exemplars"] {
			return "", errors.New("exemplar generation failed")
		}
		return `{"exemplars": ["Review this diff: ..."], "use_cases": ["pre-merge review"], "best_practices": ["review small batches"], "recommended_models": ["gpt-4o"]}`, nil
	default:
		if r.fail["completeness"] {
			return "", errors.New("completeness generation failed")
		}
		return `{"description": "An expanded description.", "body": "` + generatedBody + `"}`, nil
	}
}

type fixture struct {
	store  *content.GormStore
	locks  *lock.Manager
	srv    *miniredis.Miniredis
	runner *groupRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, content.Init(db))

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	return &fixture{
		store:  content.NewGormStore(db, nil),
		locks:  lock.NewManager(rdb, zap.NewNop()),
		srv:    srv,
		runner: &groupRunner{fail: map[string]bool{}},
	}
}

func (f *fixture) driver(cfg Config) *Driver {
	return NewDriver(f.store, f.locks, f.runner, cfg, nil, zap.NewNop())
}

func (f *fixture) seedItem(t *testing.T, id string, revision int) *types.ContentItem {
	t.Helper()
	item := &types.ContentItem{
		ID:              id,
		Type:            types.ContentTypePrompt,
		Title:           "Code review checklist",
		Description:     "short",
		Body:            "too thin",
		Category:        "engineering",
		ContentRevision: revision,
	}
	require.NoError(t, f.store.SaveItem(context.Background(), item))
	return item
}

func flaggedRecord(itemID string, revision int) types.AuditRecord {
	return types.AuditRecord{
		ItemID:          itemID,
		ContentRevision: revision,
		CategoryScores: map[string]float64{
			audit.CategorySEO:          2,
			audit.CategoryExemplars:    2,
			audit.CategoryCompleteness: 2,
		},
		OverallScore:     2.5,
		NeedsRemediation: true,
		MissingElements:  []string{"body"},
	}
}

func TestRunImprovesFlaggedItem(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)

	summary, err := f.driver(DefaultConfig()).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Improved)
	assert.Zero(t, summary.Failed)

	got, err := f.store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ContentRevision, "one remediation is one revision bump")
	assert.Equal(t, "code-review-checklist", got.Slug, "slug must be normalized")
	assert.Equal(t, generatedBody, got.Body)
	assert.True(t, got.HasEnrichment())
	assert.True(t, got.HasSEO())
}

func TestRunSkipsAtRevisionCeiling(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 5)

	cfg := DefaultConfig()
	cfg.MaxRevision = 5
	summary, err := f.driver(cfg).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 5)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedCeiling)
	assert.Zero(t, summary.Improved)

	got, _ := f.store.GetItem(context.Background(), "item-1")
	assert.Equal(t, 5, got.ContentRevision)
}

func TestRunSkipsLockedItem(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)
	require.NoError(t, f.srv.Set("audit:lock:item-1", "another-worker"))

	summary, err := f.driver(DefaultConfig()).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedLocked)

	got, _ := f.store.GetItem(context.Background(), "item-1")
	assert.Equal(t, 0, got.ContentRevision, "locked item must be untouched")
}

func TestRunSkipsStaleRecord(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 2)

	// The audit saw revision 1; someone already rewrote the item.
	summary, err := f.driver(DefaultConfig()).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedStale)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)

	cfg := DefaultConfig()
	cfg.DryRun = true
	summary, err := f.driver(cfg).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Improved)
	assert.Greater(t, summary.FieldsApplied, 0)

	got, _ := f.store.GetItem(context.Background(), "item-1")
	assert.Equal(t, 0, got.ContentRevision)
	assert.Empty(t, got.Slug)
}

func TestRunPartialApply(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)
	f.runner.fail["exemplars"] = true
	f.runner.fail["completeness"] = true

	summary, err := f.driver(DefaultConfig()).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Improved)

	got, _ := f.store.GetItem(context.Background(), "item-1")
	assert.True(t, got.HasSEO(), "surviving group must still land")
	assert.False(t, got.HasEnrichment())
	assert.Equal(t, "too thin", got.Body)
}

func TestRunAllGroupsFailing(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)
	f.runner.fail["seo"] = true
	f.runner.fail["exemplars"] = true
	f.runner.fail["completeness"] = true

	summary, err := f.driver(DefaultConfig()).Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

// conflictStore forces UpdateItem to fail once with a revision conflict to
// exercise the driver's re-read-and-retry path.
type conflictStore struct {
	content.Store
	conflicts int
}

func (c *conflictStore) UpdateItem(ctx context.Context, id string, expectedRevision int, patch types.FieldPatch) (*types.ContentItem, error) {
	if c.conflicts > 0 {
		c.conflicts--
		// Simulate the concurrent writer that caused the conflict.
		if _, err := c.Store.UpdateItem(ctx, id, expectedRevision, types.FieldPatch{"title": "raced ahead"}); err != nil {
			return nil, err
		}
		return nil, content.ErrRevisionConflict
	}
	return c.Store.UpdateItem(ctx, id, expectedRevision, patch)
}

func TestRunRetriesOnceOnRevisionConflict(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "item-1", 0)
	store := &conflictStore{Store: f.store, conflicts: 1}
	driver := NewDriver(store, f.locks, f.runner, DefaultConfig(), nil, zap.NewNop())

	summary, err := driver.Run(context.Background(), []types.AuditRecord{flaggedRecord("item-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Improved)

	got, err := f.store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ContentRevision, "concurrent bump plus the retried patch")
	assert.Equal(t, generatedBody, got.Body)
}
