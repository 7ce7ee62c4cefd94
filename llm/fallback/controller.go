package fallback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/donlaur/Engify-AI-App-sub000/internal/metrics"
	"github.com/donlaur/Engify-AI-App-sub000/llm"
)

// Target names one (provider, model) pair in the chain. Model may be empty
// to let the gateway resolve a recommended model from the registry.
type Target struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Spec is the provider-independent part of a request, reused across every
// attempt in the chain.
type Spec struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Executor is the gateway surface the controller drives.
type Executor interface {
	Execute(ctx context.Context, req llm.Request) (string, error)
}

// Attempt records one tried target for the aggregate error.
type Attempt struct {
	Provider string
	Model    string
	Err      error
}

// ExhaustedError reports that the primary and every fallback failed.
type ExhaustedError struct {
	Primary  error
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "all providers failed; primary: %v", e.Primary)
	for _, a := range e.Attempts[1:] {
		fmt.Fprintf(&sb, "; %s/%s: %v", a.Provider, a.Model, a.Err)
	}
	return sb.String()
}

func (e *ExhaustedError) Unwrap() error { return e.Primary }

// Config tunes the controller.
type Config struct {
	// Chain is the ordered fallback list tried after the primary.
	Chain []Target `yaml:"chain"`

	// FlagTTL is how long a quota-flagged provider stays skipped.
	// Defaults to 24h, matching daily quota resets.
	FlagTTL time.Duration `yaml:"flag_ttl"`

	// MaxRetries bounds in-place retries of transient failures (upstream
	// timeouts, 5xx) before a target counts as failed. Defaults to 2.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the first backoff delay, doubled per retry up to
	// maxRetryDelay. Defaults to 500ms.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

const maxRetryDelay = 8 * time.Second

// Controller wraps an Executor with availability-aware fallback. Transient
// retryable failures are retried in place with backoff; quota/rate-limit
// failures walk the chain; model-not-found failures get one same-provider
// alternate attempt; everything else surfaces immediately.
type Controller struct {
	exec       Executor
	resolver   llm.ModelResolver
	flags      FlagStore
	chain      []Target
	flagTTL    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector
}

func NewController(exec Executor, resolver llm.ModelResolver, flags FlagStore, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FlagTTL <= 0 {
		cfg.FlagTTL = 24 * time.Hour
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if flags == nil {
		flags = NewMemoryFlagStore()
	}
	return &Controller{
		exec:       exec,
		resolver:   resolver,
		flags:      flags,
		chain:      cfg.Chain,
		flagTTL:    cfg.FlagTTL,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With(zap.String("component", "fallback")),
		metrics:    collector,
	}
}

// Execute tries the primary target, then walks the fallback chain on
// availability failures. The unavailable flag is re-checked per target on
// every call, so a flag set mid-batch by a concurrent worker takes effect
// immediately.
func (c *Controller) Execute(ctx context.Context, primary Target, spec Spec) (string, error) {
	targets := make([]Target, 0, 1+len(c.chain))
	targets = append(targets, primary)
	for _, t := range c.chain {
		if t.Provider == primary.Provider && t.Model == primary.Model {
			continue
		}
		targets = append(targets, t)
	}

	var attempts []Attempt
	var primaryErr error

	for i, target := range targets {
		if c.flags.IsSet(ctx, target.Provider) {
			err := &llm.Error{
				Code:     llm.ErrProviderUnavailable,
				Message:  "provider flagged unavailable, skipping",
				Provider: target.Provider,
			}
			attempts = append(attempts, Attempt{Provider: target.Provider, Model: target.Model, Err: err})
			if i == 0 {
				primaryErr = err
			}
			continue
		}

		text, err := c.attemptTarget(ctx, target, spec)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					zap.String("from", primary.Provider),
					zap.String("to", target.Provider))
				if c.metrics != nil {
					c.metrics.FallbackSwitches.WithLabelValues(primary.Provider, target.Provider).Inc()
				}
			}
			return text, nil
		}

		attempts = append(attempts, Attempt{Provider: target.Provider, Model: target.Model, Err: err})
		if i == 0 {
			primaryErr = err
		}

		if isAvailabilityError(err) {
			c.flags.Set(ctx, target.Provider, c.flagTTL)
			if c.metrics != nil {
				c.metrics.ProviderFlagsSet.WithLabelValues(target.Provider).Inc()
			}
			c.logger.Warn("provider flagged unavailable",
				zap.String("provider", target.Provider),
				zap.Duration("ttl", c.flagTTL),
				zap.Error(err))
			continue
		}

		// Non-availability failures do not walk the chain.
		return "", err
	}

	if primaryErr == nil {
		primaryErr = errors.New("no provider attempted")
	}
	return "", &ExhaustedError{Primary: primaryErr, Attempts: attempts}
}

// attemptTarget runs one target, retrying transient retryable failures in
// place with exponential backoff. Availability failures are never retried
// here; they escalate to the chain walk in Execute.
func (c *Controller) attemptTarget(ctx context.Context, target Target, spec Spec) (string, error) {
	delay := c.retryDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying transient failure",
				zap.String("provider", target.Provider),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		text, err := c.tryTarget(ctx, target, spec)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("transient failure recovered",
					zap.String("provider", target.Provider),
					zap.Int("attempt", attempt))
			}
			return text, nil
		}
		lastErr = err
		if attempt >= c.maxRetries || !llm.IsRetryable(err) || isAvailabilityError(err) {
			return "", lastErr
		}
	}
}

// tryTarget executes one target, retrying once with a same-provider
// alternate model if the named model is missing or not permitted.
func (c *Controller) tryTarget(ctx context.Context, target Target, spec Spec) (string, error) {
	text, err := c.exec.Execute(ctx, llm.Request{
		Provider:    target.Provider,
		Model:       target.Model,
		System:      spec.System,
		Prompt:      spec.Prompt,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	})
	if err == nil {
		return text, nil
	}
	if llm.CodeOf(err) != llm.ErrModelNotFound || c.resolver == nil {
		return "", err
	}

	alt, altErr := c.resolver.AlternateModel(ctx, target.Provider, target.Model)
	if altErr != nil {
		return "", err
	}
	c.logger.Info("retrying with alternate model",
		zap.String("provider", target.Provider),
		zap.String("model", target.Model),
		zap.String("alternate", alt))
	return c.exec.Execute(ctx, llm.Request{
		Provider:    target.Provider,
		Model:       alt,
		System:      spec.System,
		Prompt:      spec.Prompt,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	})
}

// isAvailabilityError matches quota and rate-limit signatures: the typed
// codes, a 429 status, or well-known message patterns from foreign errors.
func isAvailabilityError(err error) bool {
	switch llm.CodeOf(err) {
	case llm.ErrRateLimited, llm.ErrQuotaExceeded:
		return true
	}
	var le *llm.Error
	if errors.As(err, &le) && le.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource exhausted")
}
