package openai

import (
	"time"

	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/openaicompat"
)

// Provider implements the OpenAI backend.
type Provider struct {
	*openaicompat.Provider
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName: "openai",
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger),
	}
}
