package google

import (
	"time"

	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/openaicompat"
)

// Provider implements the Gemini backend through Google's OpenAI-compatible
// endpoint.
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
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:   "google",
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			Timeout:        cfg.Timeout,
			EndpointPath:   "/v1beta/openai/chat/completions",
			ModelsEndpoint: "/v1beta/openai/models",
		}, logger),
	}
}
