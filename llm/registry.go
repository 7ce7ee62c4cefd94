package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LLMProvider is a registry row for one upstream provider.
type LLMProvider struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Code   string `gorm:"size:64;uniqueIndex" json:"code"`
	Name   string `gorm:"size:128" json:"name"`
	Active bool   `gorm:"index" json:"active"`
}

// LLMModel is a registry row for one model of a provider. Recommended models
// are preferred when a caller names only a provider; Priority breaks ties.
type LLMModel struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProviderCode   string    `gorm:"size:64;index" json:"provider_code"`
	Name           string    `gorm:"size:128;index" json:"name"`
	Active         bool      `gorm:"index" json:"active"`
	Recommended    bool      `json:"recommended"`
	Priority       int       `json:"priority"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// ModelDescriptor is the registry view exposed to callers.
type ModelDescriptor struct {
	ID             string    `json:"id"`
	Active         bool      `json:"active"`
	Recommended    bool      `json:"recommended"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// ModelResolver resolves logical provider/model requests against the registry.
type ModelResolver interface {
	// FindModelsByProvider lists the registry entries for a provider.
	FindModelsByProvider(ctx context.Context, providerCode string) ([]ModelDescriptor, error)

	// ResolveModel picks a concrete model for a request that named only a
	// provider: active models only, recommended first, then priority.
	ResolveModel(ctx context.Context, providerCode, model string) (string, error)

	// AlternateModel picks an active model of the same provider other than
	// exclude, for the one-time retry after a model-not-found failure.
	AlternateModel(ctx context.Context, providerCode, exclude string) (string, error)
}

// Registry is the gorm-backed ModelResolver.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, logger: logger.With(zap.String("component", "model_registry"))}
}

// InitRegistry migrates the registry tables.
func InitRegistry(db *gorm.DB) error {
	if err := db.AutoMigrate(&LLMProvider{}, &LLMModel{}); err != nil {
		return fmt.Errorf("failed to migrate model registry: %w", err)
	}
	return nil
}

func (r *Registry) FindModelsByProvider(ctx context.Context, providerCode string) ([]ModelDescriptor, error) {
	var rows []LLMModel
	err := r.db.WithContext(ctx).
		Where("provider_code = ?", providerCode).
		Order("recommended desc, priority desc, name asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("registry lookup for %s failed: %w", providerCode, err)
	}
	out := make([]ModelDescriptor, 0, len(rows))
	for _, m := range rows {
		out = append(out, ModelDescriptor{
			ID:             m.Name,
			Active:         m.Active,
			Recommended:    m.Recommended,
			LastVerifiedAt: m.LastVerifiedAt,
		})
	}
	return out, nil
}

func (r *Registry) ResolveModel(ctx context.Context, providerCode, model string) (string, error) {
	if model != "" {
		return model, nil
	}
	models, err := r.FindModelsByProvider(ctx, providerCode)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if m.Active {
			// Rows are ordered recommended-first, so the first active
			// entry is the preferred choice.
			return m.ID, nil
		}
	}
	return "", &Error{
		Code:     ErrRoutingUnavailable,
		Message:  fmt.Sprintf("no active model registered for provider %q", providerCode),
		Provider: providerCode,
	}
}

func (r *Registry) AlternateModel(ctx context.Context, providerCode, exclude string) (string, error) {
	models, err := r.FindModelsByProvider(ctx, providerCode)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if m.Active && m.ID != exclude {
			return m.ID, nil
		}
	}
	return "", &Error{
		Code:     ErrModelNotFound,
		Message:  fmt.Sprintf("no alternate model for provider %q besides %q", providerCode, exclude),
		Provider: providerCode,
		Model:    exclude,
	}
}

// SeedRegistry inserts a default provider/model set when the registry is
// empty. Intended for development databases; deployments manage these rows
// through the content-management layer.
func SeedRegistry(db *gorm.DB) error {
	var count int64
	db.Model(&LLMProvider{}).Count(&count)
	if count > 0 {
		return nil
	}

	now := time.Now()
	providers := []LLMProvider{
		{Code: "openai", Name: "OpenAI", Active: true},
		{Code: "anthropic", Name: "Anthropic (Claude)", Active: true},
		{Code: "google", Name: "Google (Gemini)", Active: true},
	}
	for _, p := range providers {
		if err := db.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", p.Code, err)
		}
	}

	models := []LLMModel{
		{ProviderCode: "openai", Name: "gpt-4o", Active: true, Recommended: true, Priority: 100, LastVerifiedAt: now},
		{ProviderCode: "openai", Name: "gpt-4o-mini", Active: true, Priority: 90, LastVerifiedAt: now},
		{ProviderCode: "anthropic", Name: "claude-sonnet-4.5", Active: true, Recommended: true, Priority: 100, LastVerifiedAt: now},
		{ProviderCode: "anthropic", Name: "claude-haiku-4.5", Active: true, Priority: 90, LastVerifiedAt: now},
		{ProviderCode: "google", Name: "gemini-2.0-flash", Active: true, Recommended: true, Priority: 100, LastVerifiedAt: now},
		{ProviderCode: "google", Name: "gemini-1.5-pro", Active: true, Priority: 90, LastVerifiedAt: now},
	}
	for _, m := range models {
		if err := db.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to seed model %s: %w", m.Name, err)
		}
	}
	return nil
}
