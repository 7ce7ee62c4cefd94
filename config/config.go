// Package config loads the pipeline configuration. Precedence is defaults,
// then YAML file, then ENGIFY_* environment variables, so deployments can
// keep secrets out of the file entirely.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/donlaur/Engify-AI-App-sub000/audit"
	"github.com/donlaur/Engify-AI-App-sub000/improve"
	"github.com/donlaur/Engify-AI-App-sub000/internal/cache"
	"github.com/donlaur/Engify-AI-App-sub000/internal/database"
	"github.com/donlaur/Engify-AI-App-sub000/llm"
	"github.com/donlaur/Engify-AI-App-sub000/llm/fallback"
)

const envPrefix = "ENGIFY"

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model overrides registry resolution when set.
	Model string `yaml:"model"`

	// Timeout for a single completion request.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// Config is the full pipeline configuration.
type Config struct {
	Log      LogConfig                 `yaml:"log"`
	Database database.Config           `yaml:"database"`
	Cache    cache.Config              `yaml:"cache"`
	Gateway  llm.GatewayConfig         `yaml:"gateway"`
	Provider map[string]ProviderConfig `yaml:"providers"`
	Fallback fallback.Config           `yaml:"fallback"`
	Audit    audit.Config              `yaml:"audit"`
	Policy   audit.Policy              `yaml:"policy"`
	Improve  improve.Config            `yaml:"improve"`
}

// Default returns the runnable zero-configuration setup: sqlite storage,
// local redis, no providers until keys are supplied.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "console"},
		Database: database.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Gateway:  llm.GatewayConfig{RequestsPerSecond: 2, Burst: 4},
		Provider: map[string]ProviderConfig{},
		Fallback: fallback.Config{FlagTTL: 24 * time.Hour},
		Audit:    audit.DefaultConfig(),
		Policy:   audit.DefaultPolicy(),
		Improve:  improve.DefaultConfig(),
	}
}

// Loader loads configuration with defaults, file, env precedence.
type Loader struct {
	configPath string
}

func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the file with environment variables. Only the values a
// deployment actually varies are covered: secrets, endpoints, and the log
// level.
func (l *Loader) applyEnv(cfg *Config) {
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	for _, name := range []string{"openai", "anthropic", "google"} {
		key := getenv(strings.ToUpper(name) + "_API_KEY")
		if key == "" {
			continue
		}
		pc := cfg.Provider[name]
		pc.APIKey = key
		if cfg.Provider == nil {
			cfg.Provider = map[string]ProviderConfig{}
		}
		cfg.Provider[name] = pc
	}
}

func getenv(suffix string) string {
	return os.Getenv(envPrefix + "_" + suffix)
}

// Validate rejects configurations that cannot produce a correct run.
func (c *Config) Validate() error {
	var errs []string
	sum := 0.0
	for _, w := range c.Policy.Weights {
		if w < 0 {
			errs = append(errs, "negative rubric weight")
		}
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		errs = append(errs, fmt.Sprintf("rubric weights sum to %.2f, want 1.0", sum))
	}
	if c.Policy.Threshold < 0 || c.Policy.Threshold > 10 {
		errs = append(errs, "threshold must be within 0..10")
	}
	if c.Improve.MaxRevision <= 0 {
		errs = append(errs, "max_revision must be positive")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads configuration or panics. For main() use only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// BuildLogger constructs the process logger from LogConfig.
func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
