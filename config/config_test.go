package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/modelgate/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090

provider:
  api_key: "test-key"
  timeout: 15s

budget:
  enabled: true
  daily_limit_usd: 25
  monthly_limit_usd: 500
  per_user:
    daily_limit_usd: 2.5

cache:
  enabled: true
  strategy: "fuzzy"
  ttl: 12h

database:
  driver: "sqlite"
  dsn: ":memory:"

models:
  - id: "openai/gpt-test"
    priority: 1
    languages: ["en", "ar"]
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Provider.Timeout != 15*time.Second {
		t.Errorf("Provider.Timeout = %v, want 15s", cfg.Provider.Timeout)
	}
	if cfg.Budget.DailyLimitUSD != 25 {
		t.Errorf("DailyLimitUSD = %v, want 25", cfg.Budget.DailyLimitUSD)
	}
	if cfg.Budget.PerUser.DailyLimitUSD != 2.5 {
		t.Errorf("PerUser.DailyLimitUSD = %v, want 2.5", cfg.Budget.PerUser.DailyLimitUSD)
	}
	if cfg.Cache.Strategy != "fuzzy" {
		t.Errorf("Cache.Strategy = %s, want fuzzy", cfg.Cache.Strategy)
	}
	if cfg.Cache.TTL != 12*time.Hour {
		t.Errorf("Cache.TTL = %v, want 12h", cfg.Cache.TTL)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].ID != "openai/gpt-test" {
		t.Errorf("Models = %+v", cfg.Models)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, `
provider:
  api_key: "test-key"
`)

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Host = %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Port = %d", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("default BaseURL = %s", cfg.Provider.BaseURL)
	}
	if cfg.Cache.Strategy != "exact" {
		t.Errorf("default strategy = %s", cfg.Cache.Strategy)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("default TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Cache.FuzzyThreshold != 0.8 {
		t.Errorf("default fuzzy threshold = %v", cfg.Cache.FuzzyThreshold)
	}
	if cfg.Dispatch.MaxFallbacks != 3 {
		t.Errorf("default max fallbacks = %d", cfg.Dispatch.MaxFallbacks)
	}
	if cfg.Ledger.BatchSize != 100 || cfg.Ledger.FlushInterval != 10*time.Second {
		t.Errorf("ledger defaults = %+v", cfg.Ledger)
	}
	if cfg.Budget.AlertThreshold != 0.8 {
		t.Errorf("default alert threshold = %v", cfg.Budget.AlertThreshold)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "modelgate.db" {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	os.Setenv("TEST_MG_KEY", "expanded-key")
	defer os.Unsetenv("TEST_MG_KEY")

	cfg := writeAndLoad(t, `
provider:
  api_key: "${TEST_MG_KEY}"
`)
	if cfg.Provider.APIKey != "expanded-key" {
		t.Errorf("APIKey = %s, want expanded-key", cfg.Provider.APIKey)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	_, err := writeAndLoadErr(t, `
server:
  port: 8080
`)
	if err == nil {
		t.Fatal("expected validation error for missing provider.api_key")
	}
}

func TestLoad_InvalidCacheStrategy(t *testing.T) {
	_, err := writeAndLoadErr(t, `
provider:
  api_key: "k"
cache:
  strategy: "telepathic"
`)
	if err == nil {
		t.Fatal("expected validation error for invalid cache strategy")
	}
}

func TestLoad_InvalidRule(t *testing.T) {
	_, err := writeAndLoadErr(t, `
provider:
  api_key: "k"
rate_limit:
  rules:
    - name: "bad"
      limit: 0
      window: 1m
`)
	if err == nil {
		t.Fatal("expected validation error for zero rule limit")
	}
}

func TestLoad_ModelMissingID(t *testing.T) {
	_, err := writeAndLoadErr(t, `
provider:
  api_key: "k"
models:
  - priority: 1
`)
	if err == nil {
		t.Fatal("expected validation error for model without id")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("MODELGATE_PROVIDER_API_KEY", "env-key")
	os.Setenv("MODELGATE_SERVER_PORT", "9999")
	os.Setenv("MODELGATE_BUDGET_DAILY", "12.5")
	os.Setenv("MODELGATE_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("MODELGATE_PROVIDER_API_KEY")
		os.Unsetenv("MODELGATE_SERVER_PORT")
		os.Unsetenv("MODELGATE_BUDGET_DAILY")
		os.Unsetenv("MODELGATE_LOG_LEVEL")
	}()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("APIKey = %s", cfg.Provider.APIKey)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Budget.DailyLimitUSD != 12.5 || !cfg.Budget.Enabled {
		t.Errorf("Budget = %+v", cfg.Budget)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s", cfg.Logging.Level)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	os.Setenv("MODELGATE_SERVER_PORT", "7777")
	defer os.Unsetenv("MODELGATE_SERVER_PORT")

	cfg := writeAndLoad(t, `
server:
  port: 8080
provider:
  api_key: "k"
`)
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want env override 7777", cfg.Server.Port)
	}
}

func TestLoadWithFallback_NoConfig(t *testing.T) {
	os.Unsetenv("MODELGATE_PROVIDER_API_KEY")
	if _, err := config.LoadWithFallback(""); err == nil {
		t.Fatal("expected error with no file and no env config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := writeAndLoadErr(t, "provider: [broken")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := config.Load("/nonexistent/modelgate.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modelgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.Load(path)
}
