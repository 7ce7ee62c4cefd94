package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/internal/cache"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

// scriptedRunner answers rubric prompts with structured JSON and everything
// else with a free-text score, counting calls.
type scriptedRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *scriptedRunner) Execute(_ context.Context, _ fallback.Target, spec fallback.Spec) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if strings.Contains(spec.System, "auditor") {
		return rubricJSON(6), nil
	}
	return "score: 5, needs sharper examples", nil
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type memRecorder struct {
	mu   sync.Mutex
	recs []*types.AuditRecord
}

func (m *memRecorder) Append(_ context.Context, rec *types.AuditRecord) (*types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.AuditSequence = len(m.recs) + 1
	m.recs = append(m.recs, rec)
	return rec, nil
}

func newTestOrchestrator(t *testing.T, runner Runner, respCache *cache.ResponseCache, rec Recorder, cfg Config) *Orchestrator {
	t.Helper()
	return NewOrchestrator(runner, respCache, rec, DefaultPolicy(), cfg, nil, zap.NewNop())
}

func TestEvaluateItemFullPanel(t *testing.T) {
	runner := &scriptedRunner{}
	orch := newTestOrchestrator(t, runner, nil, nil, Config{})

	rec := orch.EvaluateItem(context.Background(), testItem())

	require.Len(t, rec.RawAgentOutputs, 4)
	assert.Equal(t, 4, runner.callCount())
	// The specialized reviewers pull their categories below the rubric's 6.
	assert.InDelta(t, 5.0, rec.CategoryScores[CategorySEO], 1e-9)
	assert.InDelta(t, 5.0, rec.CategoryScores[CategoryExemplars], 1e-9)
	assert.InDelta(t, 6.0, rec.CategoryScores[CategoryCompleteness], 1e-9)
	assert.Equal(t, "item-1", rec.ItemID)
}

func TestEvaluateItemFastSkipsExpensiveReviewers(t *testing.T) {
	runner := &scriptedRunner{}
	orch := newTestOrchestrator(t, runner, nil, nil, Config{Fast: true})

	rec := orch.EvaluateItem(context.Background(), testItem())

	assert.Len(t, rec.RawAgentOutputs, 3)
	assert.NotContains(t, rec.RawAgentOutputs, "exemplar_reviewer")
}

func TestEvaluateItemUsesResponseCache(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	respCache := cache.New(rdb, 0, nil, zap.NewNop())

	runner := &scriptedRunner{}
	orch := newTestOrchestrator(t, runner, respCache, nil, Config{})

	item := testItem()
	first := orch.EvaluateItem(context.Background(), item)
	callsAfterFirst := runner.callCount()
	second := orch.EvaluateItem(context.Background(), item)

	assert.Equal(t, callsAfterFirst, runner.callCount(), "second evaluation must be served from cache")
	assert.Equal(t, first.OverallScore, second.OverallScore)

	// A changed body fingerprints differently and misses.
	item.Body = item.Body + " now with more detail"
	orch.EvaluateItem(context.Background(), item)
	assert.Greater(t, runner.callCount(), callsAfterFirst)
}

func TestEvaluateItemReviewerFailureDegrades(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("all providers failed")}
	orch := newTestOrchestrator(t, runner, nil, nil, Config{})

	rec := orch.EvaluateItem(context.Background(), testItem())

	require.NotNil(t, rec)
	assert.True(t, rec.NeedsRemediation)
	for id, raw := range rec.RawAgentOutputs {
		assert.Truef(t, strings.HasPrefix(raw, "ERROR:"), "agent %s should carry an error placeholder", id)
	}
}

func TestRunBatch(t *testing.T) {
	runner := &scriptedRunner{}
	recorder := &memRecorder{}
	orch := newTestOrchestrator(t, runner, nil, recorder, Config{Workers: 2})

	items := []types.ContentItem{*testItem(), *testItem(), *testItem()}
	items[1].ID = "item-2"
	items[2].ID = "item-3"
	items[2].Description = ""

	summary, err := orch.RunBatch(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Evaluated)
	assert.Len(t, recorder.recs, 3)
	// item-3 lacks a mandatory field and must be flagged.
	assert.GreaterOrEqual(t, summary.NeedsRemediation, 1)
}
