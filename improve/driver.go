// Package improve remediates content items flagged by the audit pipeline.
// The driver walks the flagged set, takes a per-item lock, asks a model to
// regenerate the weak field groups, and applies whatever validates through
// the content store's revision check.
package improve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/donlaur/Engify-AI-App-sub000/audit"
	"github.com/donlaur/Engify-AI-App-sub000/audit/extract"
	"github.com/donlaur/Engify-AI-App-sub000/content"
	"github.com/donlaur/Engify-AI-App-sub000/internal/lock"
	"github.com/donlaur/Engify-AI-App-sub000/internal/metrics"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

const (
	improveTemperature = 0.7
	improveMaxTokens   = 2048

	// weakScore marks a category worth regenerating even when the field
	// group is populated.
	weakScore = 6.0
)

// Config tunes a remediation run.
type Config struct {
	// Primary is the first (provider, model) target for generation calls.
	Primary fallback.Target `yaml:"primary"`

	// Workers bounds concurrent item remediations.
	Workers int `yaml:"workers"`

	// LockLease is how long the per-item lock is held at most.
	LockLease time.Duration `yaml:"lock_lease"`

	// MaxRevision is the revision ceiling. Items at or above it are skipped
	// so a stubbornly low-scoring item cannot be rewritten forever.
	MaxRevision int `yaml:"max_revision"`

	// DryRun computes and logs patches without writing them.
	DryRun bool `yaml:"dry_run"`
}

func DefaultConfig() Config {
	return Config{
		Workers:     2,
		LockLease:   2 * time.Minute,
		MaxRevision: 5,
	}
}

// Summary reports one remediation run.
type Summary struct {
	Improved       int
	SkippedLocked  int
	SkippedCeiling int
	SkippedStale   int
	Failed         int
	FieldsApplied  int
}

// Driver executes the remediation state machine for each flagged item.
type Driver struct {
	store   content.Store
	locks   *lock.Manager
	runner  audit.Runner
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewDriver(store content.Store, locks *lock.Manager, runner audit.Runner, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = 2 * time.Minute
	}
	if cfg.MaxRevision <= 0 {
		cfg.MaxRevision = 5
	}
	return &Driver{
		store:   store,
		locks:   locks,
		runner:  runner,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "improve_driver")),
	}
}

// itemOutcome is the terminal state of one item's remediation.
type itemOutcome string

const (
	outcomeImproved       itemOutcome = "improved"
	outcomeSkippedLocked  itemOutcome = "skipped_locked"
	outcomeSkippedCeiling itemOutcome = "skipped_ceiling"
	outcomeSkippedStale   itemOutcome = "skipped_stale"
	outcomeFailed         itemOutcome = "failed"
	outcomeDryRun         itemOutcome = "dry_run"
)

// Run remediates every item named by the audit records, concurrently up to
// Workers. One item failing never stops the batch.
func (d *Driver) Run(ctx context.Context, records []types.AuditRecord) (Summary, error) {
	var summary Summary

	outcomes := make([]itemOutcome, len(records))
	applied := make([]int, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i := range records {
		i := i
		g.Go(func() error {
			outcomes[i], applied[i] = d.remediateItem(gctx, &records[i])
			return nil
		})
	}
	// Workers report through outcomes, never through errors.
	_ = g.Wait()

	for i, outcome := range outcomes {
		if d.metrics != nil {
			d.metrics.RemediationsTotal.WithLabelValues(string(outcome)).Inc()
		}
		summary.FieldsApplied += applied[i]
		switch outcome {
		case outcomeImproved, outcomeDryRun:
			summary.Improved++
		case outcomeSkippedLocked:
			summary.SkippedLocked++
		case outcomeSkippedCeiling:
			summary.SkippedCeiling++
		case outcomeSkippedStale:
			summary.SkippedStale++
		default:
			summary.Failed++
		}
	}
	return summary, ctx.Err()
}

func (d *Driver) remediateItem(ctx context.Context, rec *types.AuditRecord) (itemOutcome, int) {
	log := d.logger.With(zap.String("item_id", rec.ItemID))

	if rec.ContentRevision >= d.cfg.MaxRevision {
		log.Info("revision ceiling reached, skipping",
			zap.Int("revision", rec.ContentRevision),
			zap.Int("ceiling", d.cfg.MaxRevision))
		return outcomeSkippedCeiling, 0
	}

	var outcome itemOutcome
	var fields int
	held, err := d.locks.WithLock(ctx, rec.ItemID, d.cfg.LockLease, func(ctx context.Context) error {
		outcome, fields = d.remediateLocked(ctx, rec, log)
		return nil
	})
	if err != nil {
		log.Error("remediation failed", zap.Error(err))
		return outcomeFailed, 0
	}
	if !held {
		if d.metrics != nil {
			d.metrics.LockContentionTotal.Inc()
		}
		log.Info("item locked elsewhere, skipping")
		return outcomeSkippedLocked, 0
	}
	return outcome, fields
}

// remediateLocked runs the generate-validate-apply sequence while the item
// lock is held.
func (d *Driver) remediateLocked(ctx context.Context, rec *types.AuditRecord, log *zap.Logger) (itemOutcome, int) {
	item, err := d.store.GetItem(ctx, rec.ItemID)
	if err != nil {
		log.Error("failed to load item", zap.Error(err))
		return outcomeFailed, 0
	}

	// The audit that flagged this item must still describe it. A newer
	// revision means someone already rewrote it; re-audit before touching.
	if item.ContentRevision != rec.ContentRevision {
		log.Info("item revised since audit, skipping",
			zap.Int("audited_revision", rec.ContentRevision),
			zap.Int("current_revision", item.ContentRevision))
		return outcomeSkippedStale, 0
	}

	groups := planGroups(item, rec)
	if len(groups) == 0 {
		log.Info("nothing to regenerate")
		return outcomeSkippedStale, 0
	}

	// Partial application: each group stands alone, one failed generation
	// never discards the others.
	patch := types.FieldPatch{}
	for _, grp := range groups {
		frag, err := d.generateGroup(ctx, grp, item)
		if err != nil {
			log.Warn("field group generation failed",
				zap.String("group", grp.name), zap.Error(err))
			continue
		}
		for k, v := range frag {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		log.Warn("no field group produced a usable patch")
		return outcomeFailed, 0
	}

	if d.cfg.DryRun {
		keys := make([]string, 0, len(patch))
		for k := range patch {
			keys = append(keys, k)
		}
		log.Info("dry run, patch not applied", zap.Strings("fields", keys))
		return outcomeDryRun, len(patch)
	}

	if err := d.applyPatch(ctx, item, patch, log); err != nil {
		log.Error("failed to apply patch", zap.Error(err))
		return outcomeFailed, 0
	}
	log.Info("item improved", zap.Int("fields", len(patch)),
		zap.Int("new_revision", item.ContentRevision+1))
	return outcomeImproved, len(patch)
}

// applyPatch writes through the store's revision check, re-reading and
// retrying once if a concurrent writer bumped the revision first.
func (d *Driver) applyPatch(ctx context.Context, item *types.ContentItem, patch types.FieldPatch, log *zap.Logger) error {
	_, err := d.store.UpdateItem(ctx, item.ID, item.ContentRevision, patch)
	if !errors.Is(err, content.ErrRevisionConflict) {
		return err
	}

	log.Warn("revision conflict, re-reading and retrying once")
	fresh, err := d.store.GetItem(ctx, item.ID)
	if err != nil {
		return err
	}
	_, err = d.store.UpdateItem(ctx, fresh.ID, fresh.ContentRevision, patch)
	return err
}

// fieldGroup is one regenerable slice of an item.
type fieldGroup struct {
	name   string
	system string
	prompt string
	// parse validates the model output into patch columns.
	parse func(obj map[string]any) types.FieldPatch
}

// planGroups decides which field groups the audit record justifies
// regenerating.
func planGroups(item *types.ContentItem, rec *types.AuditRecord) []fieldGroup {
	var groups []fieldGroup
	if rec.CategoryScores[audit.CategorySEO] < weakScore || !item.HasSEO() {
		groups = append(groups, seoGroup(item))
	}
	if rec.CategoryScores[audit.CategoryExemplars] < weakScore || !item.HasEnrichment() {
		groups = append(groups, exemplarGroup(item))
	}
	if rec.CategoryScores[audit.CategoryCompleteness] < weakScore || len(rec.MissingElements) > 0 {
		groups = append(groups, completenessGroup(item, rec))
	}
	return groups
}

// generateGroup asks the model for one group's replacement fields and
// validates the result.
func (d *Driver) generateGroup(ctx context.Context, grp fieldGroup, item *types.ContentItem) (types.FieldPatch, error) {
	raw, err := d.runner.Execute(ctx, d.cfg.Primary, fallback.Spec{
		System:      grp.system,
		Prompt:      grp.prompt,
		Temperature: improveTemperature,
		MaxTokens:   improveMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	obj, ok := extract.Object(raw)
	if !ok {
		return nil, fmt.Errorf("group %s: unparseable model output", grp.name)
	}
	patch := grp.parse(obj)
	if len(patch) == 0 {
		return nil, fmt.Errorf("group %s: no valid fields in model output", grp.name)
	}
	return patch, nil
}

func itemContext(item *types.ContentItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Type: %s\nTitle: %s\nCategory: %s\nDescription: %s\nBody:\n%s\n",
		item.Type, item.Title, item.Category, item.Description, item.Body)
	return sb.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeSlug lowercases and hyphenates free text into a URL slug.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func seoGroup(item *types.ContentItem) fieldGroup {
	return fieldGroup{
		name:   "seo",
		system: "You generate SEO metadata for developer-facing content. Respond with a single JSON object only.",
		prompt: fmt.Sprintf(`Generate SEO metadata for the content item below. Respond with:
{"slug": "...", "meta_description": "...", "keywords": ["..."]}
The meta description must be under 160 characters.

%s`, itemContext(item)),
		parse: func(obj map[string]any) types.FieldPatch {
			patch := types.FieldPatch{}
			if s, ok := obj["slug"].(string); ok {
				if slug := normalizeSlug(s); slug != "" {
					patch["slug"] = slug
				}
			}
			if s, ok := obj["meta_description"].(string); ok {
				s = strings.TrimSpace(s)
				if s != "" && len(s) <= 512 {
					patch["meta_description"] = s
				}
			}
			if kws := stringSlice(obj["keywords"]); len(kws) > 0 {
				patch["keywords"] = kws
			}
			return patch
		},
	}
}

func exemplarGroup(item *types.ContentItem) fieldGroup {
	return fieldGroup{
		name:   "exemplars",
		system: "You write worked examples and usage guidance for AI prompts and patterns. Respond with a single JSON object only.",
		prompt: fmt.Sprintf(`Write enrichment material for the content item below. Respond with:
{"exemplars": ["..."], "use_cases": ["..."], "best_practices": ["..."], "recommended_models": ["..."]}
Exemplars must be concrete and directly usable, not descriptions of examples.

%s`, itemContext(item)),
		parse: func(obj map[string]any) types.FieldPatch {
			patch := types.FieldPatch{}
			if v := stringSlice(obj["exemplars"]); len(v) > 0 {
				patch["exemplars"] = v
			}
			if v := stringSlice(obj["use_cases"]); len(v) > 0 {
				patch["use_cases"] = v
			}
			if v := stringSlice(obj["best_practices"]); len(v) > 0 {
				patch["best_practices"] = v
			}
			if v := stringSlice(obj["recommended_models"]); len(v) > 0 {
				patch["recommended_models"] = v
			}
			return patch
		},
	}
}

func completenessGroup(item *types.ContentItem, rec *types.AuditRecord) fieldGroup {
	issues, _ := json.Marshal(rec.Issues)
	return fieldGroup{
		name:   "completeness",
		system: "You expand thin developer-facing content into complete, self-contained material. Respond with a single JSON object only.",
		prompt: fmt.Sprintf(`Rewrite the weak fields of the content item below. Known issues: %s
Respond with:
{"description": "...", "body": "..."}
Keep the original intent; expand rather than replace. The body must be complete enough to use without other references.

%s`, issues, itemContext(item)),
		parse: func(obj map[string]any) types.FieldPatch {
			patch := types.FieldPatch{}
			if s, ok := obj["description"].(string); ok && strings.TrimSpace(s) != "" {
				patch["description"] = strings.TrimSpace(s)
			}
			if s, ok := obj["body"].(string); ok && len(strings.TrimSpace(s)) >= 100 {
				patch["body"] = strings.TrimSpace(s)
			}
			return patch
		},
	}
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
