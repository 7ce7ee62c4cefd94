package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Request is one logical model-execution request. Model may be empty, in
// which case the Gateway consults the registry for an active, preferably
// recommended model of the provider.
type Request struct {
	Provider    string
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Gateway resolves a logical (provider, model) request to a live backend and
// executes it. It never caches and never retries; both are the caller's
// responsibility.
type Gateway struct {
	providers map[string]Provider
	resolver  ModelResolver
	limiters  map[string]*rate.Limiter
	logger    *zap.Logger
}

// GatewayConfig bounds per-provider request rates.
type GatewayConfig struct {
	// RequestsPerSecond per provider. Zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

func NewGateway(providers map[string]Provider, resolver ModelResolver, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiters := make(map[string]*rate.Limiter, len(providers))
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		for name := range providers {
			limiters[name] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		}
	}
	return &Gateway{
		providers: providers,
		resolver:  resolver,
		limiters:  limiters,
		logger:    logger.With(zap.String("component", "gateway")),
	}
}

// Providers returns the configured provider names, sorted.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute resolves the request to a concrete provider/model pair and runs it.
func (g *Gateway) Execute(ctx context.Context, req Request) (string, error) {
	provider, ok := g.providers[req.Provider]
	if !ok {
		return "", &Error{
			Code:     ErrProviderUnavailable,
			Message:  fmt.Sprintf("provider %q is not configured", req.Provider),
			Provider: req.Provider,
		}
	}

	model := req.Model
	if model == "" {
		if g.resolver == nil {
			return "", &Error{
				Code:     ErrRoutingUnavailable,
				Message:  "no model named and no registry configured",
				Provider: req.Provider,
			}
		}
		resolved, err := g.resolver.ResolveModel(ctx, req.Provider, "")
		if err != nil {
			return "", err
		}
		model = resolved
		g.logger.Debug("resolved model from registry",
			zap.String("provider", req.Provider),
			zap.String("model", model))
	}

	if lim, ok := g.limiters[req.Provider]; ok {
		if err := lim.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait cancelled: %w", err)
		}
	}

	messages := make([]Message, 0, 2)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: req.Prompt})

	start := time.Now()
	resp, err := provider.Completion(ctx, &ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	if resp.Text() == "" {
		return "", &Error{
			Code:     ErrUpstreamError,
			Message:  "empty completion response",
			Provider: req.Provider,
			Model:    model,
		}
	}

	g.logger.Debug("completion ok",
		zap.String("provider", req.Provider),
		zap.String("model", model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return resp.Text(), nil
}

// HealthyProviders probes every configured provider and returns the names of
// those that answer. A run aborts only when this comes back empty.
func (g *Gateway) HealthyProviders(ctx context.Context) []string {
	var healthy []string
	for _, name := range g.Providers() {
		status, err := g.providers[name].HealthCheck(ctx)
		if err != nil || status == nil || !status.Healthy {
			g.logger.Warn("provider failed health probe", zap.String("provider", name), zap.Error(err))
			continue
		}
		healthy = append(healthy, name)
	}
	return healthy
}
