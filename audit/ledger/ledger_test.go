package ledger

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/donlaur/Engify-AI-App-sub000/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Init(db))
	return db
}

func record(itemID string, score float64, needsRemediation bool) *types.AuditRecord {
	return &types.AuditRecord{
		ItemID:           itemID,
		ContentRevision:  1,
		CategoryScores:   map[string]float64{"completeness": score},
		OverallScore:     score,
		NeedsRemediation: needsRemediation,
	}
}

func TestAppendAssignsSequences(t *testing.T) {
	l := New(testDB(t), nil)
	ctx := context.Background()

	first, err := l.Append(ctx, record("item-1", 4.0, true))
	require.NoError(t, err)
	second, err := l.Append(ctx, record("item-1", 7.0, false))
	require.NoError(t, err)
	other, err := l.Append(ctx, record("item-2", 5.0, true))
	require.NoError(t, err)

	assert.Equal(t, 1, first.AuditSequence)
	assert.Equal(t, 2, second.AuditSequence)
	assert.Equal(t, 1, other.AuditSequence, "sequences are per item")
}

func TestLatest(t *testing.T) {
	l := New(testDB(t), nil)
	ctx := context.Background()

	_, err := l.Latest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = l.Append(ctx, record("item-1", 4.0, true))
	require.NoError(t, err)
	_, err = l.Append(ctx, record("item-1", 8.0, false))
	require.NoError(t, err)

	latest, err := l.Latest(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.AuditSequence)
	assert.InDelta(t, 8.0, latest.OverallScore, 1e-9)
}

func TestHistoryOrdering(t *testing.T) {
	l := New(testDB(t), nil)
	ctx := context.Background()

	for _, score := range []float64{3, 5, 7} {
		_, err := l.Append(ctx, record("item-1", score, false))
		require.NoError(t, err)
	}

	history, err := l.History(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.InDelta(t, 3.0, history[0].OverallScore, 1e-9)
	assert.InDelta(t, 7.0, history[2].OverallScore, 1e-9)
}

func TestListNeedingRemediationUsesLatestOnly(t *testing.T) {
	l := New(testDB(t), nil)
	ctx := context.Background()

	// item-1 was bad but its latest audit is clean.
	_, err := l.Append(ctx, record("item-1", 3.0, true))
	require.NoError(t, err)
	_, err = l.Append(ctx, record("item-1", 8.0, false))
	require.NoError(t, err)

	// item-2's latest audit still flags it.
	_, err = l.Append(ctx, record("item-2", 7.0, false))
	require.NoError(t, err)
	_, err = l.Append(ctx, record("item-2", 4.0, true))
	require.NoError(t, err)

	flagged, err := l.ListNeedingRemediation(ctx, 0)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "item-2", flagged[0].ItemID)
}

func TestListNeedingRemediationLimit(t *testing.T) {
	l := New(testDB(t), nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := l.Append(ctx, record(id, 2.0, true))
		require.NoError(t, err)
	}

	flagged, err := l.ListNeedingRemediation(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, flagged, 2)
}
