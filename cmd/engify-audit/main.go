// Command engify-audit runs the content audit and improvement pipeline.
//
//	engify-audit audit   -type prompt -limit 50
//	engify-audit improve -limit 20 -dry-run
//	engify-audit seed
//	engify-audit version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/donlaur/Engify-AI-App-sub000/audit"
	"github.com/donlaur/Engify-AI-App-sub000/audit/ledger"
	"github.com/donlaur/Engify-AI-App-sub000/config"
	"github.com/donlaur/Engify-AI-App-sub000/content"
	"github.com/donlaur/Engify-AI-App-sub000/improve"
	"github.com/donlaur/Engify-AI-App-sub000/internal/cache"
	"github.com/donlaur/Engify-AI-App-sub000/internal/database"
	"github.com/donlaur/Engify-AI-App-sub000/internal/lock"
	"github.com/donlaur/Engify-AI-App-sub000/internal/metrics"
	"github.com/donlaur/Engify-AI-App-sub000/llm"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/anthropic"
	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/google"
	"github.com/donlaur/Engify-AI-App-sub000/llm/providers/openai"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "audit":
		err = runAudit(ctx, os.Args[2:])
	case "improve":
		err = runImprove(ctx, os.Args[2:])
	case "seed":
		err = runSeed(ctx, os.Args[2:])
	case "version":
		fmt.Println("engify-audit " + version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: engify-audit <command> [flags]

commands:
  audit    evaluate content items and record audit results
  improve  remediate items flagged by the latest audit
  seed     create tables and seed the model registry
  version  print the version`)
}

// app holds the wired pipeline shared by the subcommands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	rdb        *redis.Client
	gateway    *llm.Gateway
	registry   *llm.Registry
	controller *fallback.Controller
	store      *content.GormStore
	ledger     *ledger.Ledger
	locks      *lock.Manager
	respCache  *cache.ResponseCache
	metrics    *metrics.Collector
	primary    fallback.Target
}

func buildApp(cfgPath, providerOverride, modelOverride string) (*app, error) {
	cfg, err := config.NewLoader().WithConfigPath(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	logger, err := config.BuildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	for _, init := range []func(*gorm.DB) error{content.Init, ledger.Init, llm.InitRegistry} {
		if err := init(db); err != nil {
			return nil, err
		}
	}

	var rdb *redis.Client
	if cfg.Cache.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
	}

	collector := metrics.NewCollector("engify", prometheus.DefaultRegisterer)
	registry := llm.NewRegistry(db, logger)

	providers := make(map[string]llm.Provider, len(cfg.Provider))
	for name, pc := range cfg.Provider {
		if pc.APIKey == "" {
			continue
		}
		switch name {
		case "openai":
			providers[name] = openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: pc.Timeout}, logger)
		case "anthropic":
			providers[name] = anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: pc.Timeout}, logger)
		case "google":
			providers[name] = google.New(google.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: pc.Timeout}, logger)
		default:
			logger.Warn("unknown provider in config, skipping", zap.String("provider", name))
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured; set ENGIFY_OPENAI_API_KEY or edit the config file")
	}

	gateway := llm.NewGateway(providers, registry, cfg.Gateway, logger)

	primary := pickPrimary(providers, providerOverride)
	primary.Model = modelOverride
	chain := cfg.Fallback.Chain
	if len(chain) == 0 {
		for _, name := range gateway.Providers() {
			if name != primary.Provider {
				chain = append(chain, fallback.Target{Provider: name})
			}
		}
	}

	fbCfg := cfg.Fallback
	fbCfg.Chain = chain
	flags := fallback.NewRedisFlagStore(rdb, logger)
	controller := fallback.NewController(gateway, registry, flags, fbCfg, collector, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		gateway:    gateway,
		registry:   registry,
		controller: controller,
		store:      content.NewGormStore(db, logger),
		ledger:     ledger.New(db, logger),
		locks:      lock.NewManager(rdb, logger),
		respCache:  cache.New(rdb, cfg.Cache.TTL, collector, logger),
		metrics:    collector,
		primary:    primary,
	}, nil
}

// pickPrimary prefers an explicit override, then the conventional provider
// order among what is configured.
func pickPrimary(providers map[string]llm.Provider, override string) fallback.Target {
	if override != "" {
		return fallback.Target{Provider: override}
	}
	for _, name := range []string{"openai", "anthropic", "google"} {
		if _, ok := providers[name]; ok {
			return fallback.Target{Provider: name}
		}
	}
	for name := range providers {
		return fallback.Target{Provider: name}
	}
	return fallback.Target{}
}

// requireHealthy aborts the run only when no provider at all answers the
// probe; a partially degraded fleet still runs behind the fallback chain.
func (a *app) requireHealthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	healthy := a.gateway.HealthyProviders(probeCtx)
	if len(healthy) == 0 {
		return fmt.Errorf("no provider passed the health probe, refusing to run")
	}
	a.logger.Info("providers healthy", zap.Strings("providers", healthy))
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "config file path")
	itemType := fs.String("type", "", "content type filter: prompt or pattern")
	category := fs.String("category", "", "category filter")
	role := fs.String("role", "", "role filter")
	limit := fs.Int("limit", 0, "max items to evaluate, 0 for all")
	fast := fs.Bool("fast", false, "skip expensive reviewers")
	provider := fs.String("provider", "", "primary provider override")
	model := fs.String("model", "", "primary model override")
	workers := fs.Int("workers", 0, "concurrent evaluations override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*cfgPath, *provider, *model)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	if err := a.requireHealthy(ctx); err != nil {
		return err
	}

	items, err := a.store.ListItems(ctx, types.ItemFilter{
		Type:     types.ContentType(*itemType),
		Category: *category,
		Role:     *role,
		Limit:    *limit,
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no items matched the filter")
		return nil
	}

	auditCfg := a.cfg.Audit
	auditCfg.Primary = a.primary
	auditCfg.Fast = *fast
	if *workers > 0 {
		auditCfg.Workers = *workers
	}
	orch := audit.NewOrchestrator(a.controller, a.respCache, a.ledger, a.cfg.Policy, auditCfg, a.metrics, a.logger)

	summary, err := orch.RunBatch(ctx, items)
	fmt.Printf("evaluated %d item(s): %d need remediation, %d failed\n",
		summary.Evaluated, summary.NeedsRemediation, summary.Failed)
	return err
}

func runImprove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("improve", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "config file path")
	limit := fs.Int("limit", 0, "max items to remediate, 0 for all")
	dryRun := fs.Bool("dry-run", false, "compute patches without writing")
	provider := fs.String("provider", "", "primary provider override")
	model := fs.String("model", "", "primary model override")
	workers := fs.Int("workers", 0, "concurrent remediations override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*cfgPath, *provider, *model)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	if err := a.requireHealthy(ctx); err != nil {
		return err
	}

	records, err := a.ledger.ListNeedingRemediation(ctx, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no items need remediation")
		return nil
	}

	improveCfg := a.cfg.Improve
	improveCfg.Primary = a.primary
	improveCfg.DryRun = *dryRun
	if *workers > 0 {
		improveCfg.Workers = *workers
	}
	driver := improve.NewDriver(a.store, a.locks, a.controller, improveCfg, a.metrics, a.logger)

	summary, err := driver.Run(ctx, records)
	fmt.Printf("improved %d item(s): %d locked, %d at ceiling, %d stale, %d failed, %d field(s) written\n",
		summary.Improved, summary.SkippedLocked, summary.SkippedCeiling,
		summary.SkippedStale, summary.Failed, summary.FieldsApplied)
	return err
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewLoader().WithConfigPath(*cfgPath).Load()
	if err != nil {
		return err
	}
	logger, err := config.BuildLogger(cfg.Log)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	for _, init := range []func(*gorm.DB) error{content.Init, ledger.Init, llm.InitRegistry} {
		if err := init(db); err != nil {
			return err
		}
	}
	if err := llm.SeedRegistry(db); err != nil {
		return err
	}
	fmt.Println("tables created, model registry seeded")
	return nil
}
