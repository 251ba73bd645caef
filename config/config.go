// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Models    []ModelConfig   `yaml:"models"`
	Budget    BudgetConfig    `yaml:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProviderConfig configures the upstream model provider.
type ProviderConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	Referer         string        `yaml:"referer"`
	Title           string        `yaml:"title"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // catalog refresh, 0 disables
}

// ModelConfig overlays routing metadata onto provider models.
type ModelConfig struct {
	ID            string   `yaml:"id"`
	Priority      int      `yaml:"priority"`
	Languages     []string `yaml:"languages"`
	Capabilities  []string `yaml:"capabilities"`
	CostPer1KIn   float64  `yaml:"cost_per_1k_in"`
	CostPer1KOut  float64  `yaml:"cost_per_1k_out"`
	ContextWindow int      `yaml:"context_window"`
}

// BudgetConfig configures spend limits. The top-level limits cap the
// gateway as a whole; the optional per_user block caps each user.
type BudgetConfig struct {
	Enabled         bool                `yaml:"enabled"`
	DailyLimitUSD   float64             `yaml:"daily_limit_usd"`
	WeeklyLimitUSD  float64             `yaml:"weekly_limit_usd"`
	MonthlyLimitUSD float64             `yaml:"monthly_limit_usd"`
	AlertThreshold  float64             `yaml:"alert_threshold"`
	PerUser         PerUserBudgetConfig `yaml:"per_user"`
}

// PerUserBudgetConfig caps what any single user may spend.
type PerUserBudgetConfig struct {
	DailyLimitUSD   float64 `yaml:"daily_limit_usd"`
	WeeklyLimitUSD  float64 `yaml:"weekly_limit_usd"`
	MonthlyLimitUSD float64 `yaml:"monthly_limit_usd"`
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	Enabled bool         `yaml:"enabled"`
	MaxWait time.Duration `yaml:"max_wait"` // longest checkAndWait sleep
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig is one sliding-window rule.
type RuleConfig struct {
	Name   string        `yaml:"name"`
	Scope  string        `yaml:"scope"` // "per_user" or "global"
	Unit   string        `yaml:"unit"`  // "requests" or "tokens"
	Limit  int64         `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// CacheConfig configures response caching.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Strategy       string        `yaml:"strategy"` // "exact", "fuzzy", "semantic"
	TTL            time.Duration `yaml:"ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	FuzzyThreshold float64       `yaml:"fuzzy_threshold"`
	KeyDepth       int           `yaml:"key_depth"` // messages hashed into the key
}

// DispatchConfig configures the orchestrator.
type DispatchConfig struct {
	MaxFallbacks   int           `yaml:"max_fallbacks"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// LedgerConfig configures usage recording.
type LedgerConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	MODELGATE_PROVIDER_API_KEY  - Provider API key (required)
//	MODELGATE_PROVIDER_URL      - Provider base URL (default: OpenRouter)
//	MODELGATE_DATABASE_DSN      - Database path (default: modelgate.db)
//	MODELGATE_SERVER_HOST       - Server host (default: 0.0.0.0)
//	MODELGATE_SERVER_PORT       - Server port (default: 8080)
//	MODELGATE_BUDGET_DAILY      - Daily spend limit in USD
//	MODELGATE_RATELIMIT_ENABLED - Enable admission control (default: true)
//	MODELGATE_CACHE_ENABLED     - Enable response cache (default: true)
//	MODELGATE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	MODELGATE_LOG_FORMAT        - Log format: json or console (default: json)
//	MODELGATE_METRICS_ENABLED   - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("MODELGATE_PROVIDER_API_KEY") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set MODELGATE_PROVIDER_API_KEY")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("MODELGATE_PROVIDER_API_KEY") != ""
}

// applyEnvOverrides applies MODELGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MODELGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MODELGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("MODELGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("MODELGATE_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("MODELGATE_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("MODELGATE_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = d
		}
	}

	if v := os.Getenv("MODELGATE_BUDGET_DAILY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.DailyLimitUSD = f
			cfg.Budget.Enabled = true
		}
	}
	if v := os.Getenv("MODELGATE_BUDGET_WEEKLY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.WeeklyLimitUSD = f
			cfg.Budget.Enabled = true
		}
	}
	if v := os.Getenv("MODELGATE_BUDGET_MONTHLY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.MonthlyLimitUSD = f
			cfg.Budget.Enabled = true
		}
	}

	if v := os.Getenv("MODELGATE_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODELGATE_RATELIMIT_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.MaxWait = d
		}
	}

	if v := os.Getenv("MODELGATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODELGATE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("MODELGATE_CACHE_STRATEGY"); v != "" {
		cfg.Cache.Strategy = v
	}

	if v := os.Getenv("MODELGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MODELGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("MODELGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MODELGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("MODELGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODELGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 60 * time.Second
	}
	if cfg.Provider.RefreshInterval == 0 {
		cfg.Provider.RefreshInterval = time.Hour
	}

	if cfg.Budget.AlertThreshold == 0 {
		cfg.Budget.AlertThreshold = 0.8
	}

	if cfg.RateLimit.MaxWait == 0 {
		cfg.RateLimit.MaxWait = 5 * time.Second
	}

	if cfg.Cache.Strategy == "" {
		cfg.Cache.Strategy = "exact"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.FuzzyThreshold == 0 {
		cfg.Cache.FuzzyThreshold = 0.8
	}
	if cfg.Cache.KeyDepth == 0 {
		cfg.Cache.KeyDepth = 3
	}

	if cfg.Dispatch.MaxFallbacks == 0 {
		cfg.Dispatch.MaxFallbacks = 3
	}
	if cfg.Dispatch.AttemptTimeout == 0 {
		cfg.Dispatch.AttemptTimeout = 60 * time.Second
	}

	if cfg.Ledger.BatchSize == 0 {
		cfg.Ledger.BatchSize = 100
	}
	if cfg.Ledger.FlushInterval == 0 {
		cfg.Ledger.FlushInterval = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "modelgate.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validStrategies := map[string]bool{"exact": true, "fuzzy": true, "semantic": true}
	if !validStrategies[cfg.Cache.Strategy] {
		return fmt.Errorf("cache.strategy must be one of: exact, fuzzy, semantic")
	}

	if cfg.Cache.FuzzyThreshold < 0 || cfg.Cache.FuzzyThreshold > 1 {
		return fmt.Errorf("cache.fuzzy_threshold must be in [0, 1]")
	}

	for i, r := range cfg.RateLimit.Rules {
		if r.Name == "" {
			return fmt.Errorf("rate_limit.rules[%d].name is required", i)
		}
		if r.Limit <= 0 || r.Window <= 0 {
			return fmt.Errorf("rate_limit.rules[%d] needs a positive limit and window", i)
		}
	}

	for i, m := range cfg.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d].id is required", i)
		}
	}

	return nil
}
