package bootstrap

import (
	"testing"
	"time"

	"github.com/artpar/modelgate/config"
	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/domain/cache"
)

func TestOverlaysFrom(t *testing.T) {
	overlays := overlaysFrom([]config.ModelConfig{
		{
			ID:           "openai/gpt-a",
			Priority:     1,
			Languages:    []string{"ar", "en"},
			Capabilities: []string{"chat", "cultural_aware"},
			CostPer1KIn:  0.25,
			CostPer1KOut: 0.75,
		},
		{ID: "deepseek/chat", Priority: 2},
	})

	if len(overlays) != 2 {
		t.Fatalf("overlays = %d, want 2", len(overlays))
	}
	if overlays[0].ID != "openai/gpt-a" || overlays[0].Priority != 1 {
		t.Errorf("overlay[0] = %+v", overlays[0])
	}
	if len(overlays[0].Languages) != 2 || overlays[0].CostPer1KOut != 0.75 {
		t.Errorf("overlay[0] fields not carried over: %+v", overlays[0])
	}
}

func TestGovernorConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Budget: config.BudgetConfig{
			Enabled:         true,
			DailyLimitUSD:   10,
			MonthlyLimitUSD: 100,
			AlertThreshold:  0.8,
		},
	}

	got := governorConfigFrom(cfg)
	if !got.Enabled {
		t.Error("Enabled = false")
	}
	if got.Budget.DailyLimitUSD != 10 || got.Budget.MonthlyLimitUSD != 100 {
		t.Errorf("limits = %+v", got.Budget)
	}
	if got.Budget.AlertThreshold != 0.8 {
		t.Errorf("AlertThreshold = %v", got.Budget.AlertThreshold)
	}
}

func TestAdmissionConfigFrom(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			MaxWait: 5 * time.Second,
			Rules: []config.RuleConfig{
				{Name: "user_rpm", Scope: "per_user", Unit: "requests", Limit: 60, Window: time.Minute},
				{Name: "global_tpm", Scope: "global", Unit: "tokens", Limit: 500_000, Window: time.Minute},
			},
		},
	}

	got := admissionConfigFrom(cfg)
	if !got.Enabled || got.MaxWait != 5*time.Second {
		t.Errorf("config = %+v", got)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(got.Rules))
	}
	if got.Rules[0].Scope != admission.ScopePerUser || got.Rules[0].Unit != admission.UnitRequests {
		t.Errorf("rule[0] = %+v", got.Rules[0])
	}
	if got.Rules[1].Scope != admission.ScopeGlobal || got.Rules[1].Unit != admission.UnitTokens {
		t.Errorf("rule[1] = %+v", got.Rules[1])
	}
	if got.Rules[1].Limit != 500_000 {
		t.Errorf("rule[1].Limit = %d", got.Rules[1].Limit)
	}
}

func TestCacheConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Cache: config.CacheConfig{
			Enabled:        true,
			Strategy:       "fuzzy",
			TTL:            time.Hour,
			FuzzyThreshold: 0.7,
			KeyDepth:       5,
		},
	}

	got := cacheConfigFrom(cfg)
	if got.Strategy != cache.StrategyFuzzy {
		t.Errorf("Strategy = %s", got.Strategy)
	}
	if got.TTL != time.Hour || got.FuzzyThreshold != 0.7 || got.KeyDepth != 5 {
		t.Errorf("config = %+v", got)
	}
}

func TestDispatchConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Dispatch: config.DispatchConfig{
			MaxFallbacks:   2,
			AttemptTimeout: 30 * time.Second,
		},
	}

	got := dispatchConfigFrom(cfg)
	if got.MaxFallbacks != 2 || got.AttemptTimeout != 30*time.Second {
		t.Errorf("config = %+v", got)
	}
}
