package anthropic

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/openaicompat"
)

// Provider implements the Anthropic backend through Claude's
// OpenAI-compatible endpoint.
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
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4.5"
	}
	return &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName: "anthropic",
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			BuildHeaders: anthropicHeaders,
		}, logger),
	}
}

// anthropicHeaders uses x-api-key auth instead of the default bearer token.
func anthropicHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")
}
