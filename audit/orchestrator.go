package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/donlaur/Engify-AI-App-sub000/internal/cache"
	"github.com/donlaur/Engify-AI-App-sub000/internal/metrics"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fingerprint"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

const (
	reviewTemperature = 0.2
	reviewMaxTokens   = 1024
)

// Runner executes one reviewer request with fallback. *fallback.Controller
// satisfies it; tests substitute a fake.
type Runner interface {
	Execute(ctx context.Context, primary fallback.Target, spec fallback.Spec) (string, error)
}

// Recorder persists finished audit records.
type Recorder interface {
	Append(ctx context.Context, rec *types.AuditRecord) (*types.AuditRecord, error)
}

// Config tunes an evaluation run.
type Config struct {
	// Primary is the first (provider, model) target for every reviewer.
	Primary fallback.Target `yaml:"primary"`

	// PerItemTimeout bounds one item's full panel evaluation.
	PerItemTimeout time.Duration `yaml:"per_item_timeout"`

	// Workers bounds concurrent item evaluations in a batch.
	Workers int `yaml:"workers"`

	// Fast skips reviewers marked expensive.
	Fast bool `yaml:"fast"`
}

func DefaultConfig() Config {
	return Config{
		PerItemTimeout: 3 * time.Minute,
		Workers:        4,
	}
}

// Orchestrator fans one content item out to the review panel, consults the
// response cache before each reviewer call, and folds the responses into an
// audit record. Individual reviewer failures degrade the record instead of
// failing the item.
type Orchestrator struct {
	agents   []Agent
	runner   Runner
	cache    *cache.ResponseCache
	recorder Recorder
	policy   Policy
	cfg      Config
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewOrchestrator(runner Runner, respCache *cache.ResponseCache, recorder Recorder, policy Policy, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerItemTimeout <= 0 {
		cfg.PerItemTimeout = 3 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Orchestrator{
		agents:   DefaultAgents(),
		runner:   runner,
		cache:    respCache,
		recorder: recorder,
		policy:   policy,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "orchestrator")),
		tracer:   otel.Tracer("audit"),
	}
}

// panel returns the agents active for this run.
func (o *Orchestrator) panel() []Agent {
	if !o.cfg.Fast {
		return o.agents
	}
	out := make([]Agent, 0, len(o.agents))
	for _, a := range o.agents {
		if a.Expensive {
			continue
		}
		out = append(out, a)
	}
	return out
}

// EvaluateItem runs the review panel over one item and computes its audit
// record. The record is returned unpersisted; batch runs append it through
// the Recorder.
func (o *Orchestrator) EvaluateItem(ctx context.Context, item *types.ContentItem) *types.AuditRecord {
	ctx, span := o.tracer.Start(ctx, "audit.evaluate_item",
		trace.WithAttributes(
			attribute.String("item.id", item.ID),
			attribute.String("item.type", string(item.Type)),
		))
	defer span.End()

	start := time.Now()
	agents := o.panel()
	outputs := make([]agentOutput, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		i, agent := i, agent
		g.Go(func() error {
			outputs[i] = o.runAgent(gctx, agent, item)
			return nil
		})
	}
	// Workers never return errors; failures degrade the record instead.
	_ = g.Wait()

	rec := Compute(o.policy, item, outputs)

	if o.metrics != nil {
		outcome := "ok"
		if rec.NeedsRemediation {
			outcome = "needs_remediation"
		}
		o.metrics.EvaluationsTotal.WithLabelValues(outcome).Inc()
		o.metrics.EvaluationDuration.WithLabelValues(string(item.Type)).Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.Float64("audit.overall_score", rec.OverallScore),
		attribute.Bool("audit.needs_remediation", rec.NeedsRemediation),
	)
	o.logger.Info("item evaluated",
		zap.String("item_id", item.ID),
		zap.Float64("score", rec.OverallScore),
		zap.Bool("needs_remediation", rec.NeedsRemediation),
		zap.Duration("elapsed", time.Since(start)))
	return rec
}

// runAgent executes one reviewer for one item, going through the response
// cache first. A failed call is recorded with an error placeholder so the
// raw-output trail shows what happened.
func (o *Orchestrator) runAgent(ctx context.Context, agent Agent, item *types.ContentItem) agentOutput {
	ctx, span := o.tracer.Start(ctx, "audit.run_agent",
		trace.WithAttributes(attribute.String("agent.id", agent.ID)))
	defer span.End()

	prompt := agent.BuildPrompt(item)
	fp := fingerprint.Sum(prompt)

	if o.cache != nil {
		if text, hit := o.cache.Get(ctx, agent.ID, fp); hit {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return agentOutput{agent: agent, raw: text}
		}
	}

	text, err := o.runner.Execute(ctx, o.cfg.Primary, fallback.Spec{
		System:      agent.System,
		Prompt:      prompt,
		Temperature: reviewTemperature,
		MaxTokens:   reviewMaxTokens,
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.AgentFailuresTotal.WithLabelValues(agent.ID).Inc()
		}
		o.logger.Warn("reviewer failed",
			zap.String("agent", agent.ID),
			zap.String("item_id", item.ID),
			zap.Error(err))
		return agentOutput{agent: agent, raw: "ERROR: " + err.Error(), failed: true}
	}

	if o.cache != nil {
		o.cache.Put(ctx, agent.ID, fp, text)
	}
	return agentOutput{agent: agent, raw: text}
}

// BatchSummary reports one evaluation run.
type BatchSummary struct {
	Evaluated        int
	NeedsRemediation int
	Failed           int
}

// RunBatch evaluates items concurrently and appends each record through the
// Recorder. A single item failing to persist does not stop the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, items []types.ContentItem) (BatchSummary, error) {
	var summary BatchSummary

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	results := make([]*types.AuditRecord, len(items))
	for i := range items {
		i := i
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, o.cfg.PerItemTimeout)
			defer cancel()
			results[i] = o.EvaluateItem(itemCtx, &items[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	for i, rec := range results {
		if rec == nil {
			summary.Failed++
			continue
		}
		if o.recorder != nil {
			if _, err := o.recorder.Append(ctx, rec); err != nil {
				o.logger.Error("failed to persist audit record",
					zap.String("item_id", items[i].ID), zap.Error(err))
				summary.Failed++
				continue
			}
		}
		summary.Evaluated++
		if rec.NeedsRemediation {
			summary.NeedsRemediation++
		}
	}
	return summary, ctx.Err()
}
