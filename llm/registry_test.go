package llm

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func registryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, InitRegistry(db))
	return db
}

func seedModels(t *testing.T, db *gorm.DB, models ...LLMModel) {
	t.Helper()
	for _, m := range models {
		require.NoError(t, db.Create(&m).Error)
	}
}

func TestResolveModelPrefersRecommended(t *testing.T) {
	db := registryDB(t)
	seedModels(t, db,
		LLMModel{ProviderCode: "openai", Name: "gpt-4o-mini", Active: true, Priority: 90},
		LLMModel{ProviderCode: "openai", Name: "gpt-4o", Active: true, Recommended: true, Priority: 100},
	)
	r := NewRegistry(db, nil)

	model, err := r.ResolveModel(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model)
}

func TestResolveModelKeepsExplicitChoice(t *testing.T) {
	r := NewRegistry(registryDB(t), nil)
	model, err := r.ResolveModel(context.Background(), "openai", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestResolveModelSkipsInactive(t *testing.T) {
	db := registryDB(t)
	seedModels(t, db,
		LLMModel{ProviderCode: "openai", Name: "gpt-old", Active: false, Recommended: true, Priority: 100},
		LLMModel{ProviderCode: "openai", Name: "gpt-4o-mini", Active: true, Priority: 50},
	)
	r := NewRegistry(db, nil)

	model, err := r.ResolveModel(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestResolveModelNoneRegistered(t *testing.T) {
	r := NewRegistry(registryDB(t), nil)
	_, err := r.ResolveModel(context.Background(), "openai", "")
	require.Error(t, err)
	assert.Equal(t, ErrRoutingUnavailable, CodeOf(err))
}

func TestAlternateModel(t *testing.T) {
	db := registryDB(t)
	seedModels(t, db,
		LLMModel{ProviderCode: "openai", Name: "gpt-4o", Active: true, Recommended: true, Priority: 100},
		LLMModel{ProviderCode: "openai", Name: "gpt-4o-mini", Active: true, Priority: 90},
	)
	r := NewRegistry(db, nil)

	alt, err := r.AlternateModel(context.Background(), "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", alt)

	_, err = r.AlternateModel(context.Background(), "openai", "gpt-4o-mini")
	require.NoError(t, err)

	// With a single model there is nothing to fall back to.
	db2 := registryDB(t)
	seedModels(t, db2, LLMModel{ProviderCode: "openai", Name: "gpt-4o", Active: true})
	r2 := NewRegistry(db2, nil)
	_, err = r2.AlternateModel(context.Background(), "openai", "gpt-4o")
	require.Error(t, err)
	assert.Equal(t, ErrModelNotFound, CodeOf(err))
}

func TestSeedRegistryIsIdempotent(t *testing.T) {
	db := registryDB(t)
	require.NoError(t, SeedRegistry(db))
	require.NoError(t, SeedRegistry(db))

	var providerCount int64
	db.Model(&LLMProvider{}).Count(&providerCount)
	assert.EqualValues(t, 3, providerCount)

	var modelCount int64
	db.Model(&LLMModel{}).Count(&modelCount)
	assert.EqualValues(t, 6, modelCount)
}
