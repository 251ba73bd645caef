package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/adapters/clock"
	"github.com/artpar/modelgate/adapters/memory"
	"github.com/artpar/modelgate/adapters/metrics"
	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/domain/dispatch"
)

var admissionBase = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

func newAdmissionFixture(t *testing.T, cfg AdmissionConfig) (*AdmissionService, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(admissionBase)
	svc := NewAdmissionService(AdmissionDeps{
		Windows: memory.NewWindowStore(),
		Clock:   clk,
		Metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	}, cfg, zerolog.Nop())

	// Waiting advances the fake clock instead of sleeping.
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		clk.Advance(d)
		return nil
	}
	return svc, clk
}

func perMinuteRule(limit int64) admission.Rule {
	return admission.Rule{
		Name:   "user_requests_per_minute",
		Scope:  admission.ScopePerUser,
		Unit:   admission.UnitRequests,
		Limit:  limit,
		Window: time.Minute,
	}
}

func TestCheckAndWait_DeniesWhenWaitExceedsMax(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: 5 * time.Second,
		Rules:   []admission.Rule{perMinuteRule(60)},
	})
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := svc.CheckAndWait(ctx, "user-1", 10); err != nil {
			t.Fatalf("request %d denied: %v", i+1, err)
		}
	}

	err := svc.CheckAndWait(ctx, "user-1", 10)

	var rateErr *dispatch.ErrRateLimitExceeded
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
	}
	if rateErr.Rule != "user_requests_per_minute" {
		t.Errorf("Rule = %s", rateErr.Rule)
	}
	// All 60 entries landed at the same instant, so the oldest ages out
	// a full window later.
	if rateErr.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %v, want 1m", rateErr.RetryAfter)
	}
}

func TestCheckAndWait_ParksThenAdmits(t *testing.T) {
	svc, clk := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: 2 * time.Minute,
		Rules:   []admission.Rule{perMinuteRule(60)},
	})
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := svc.CheckAndWait(ctx, "user-1", 10); err != nil {
			t.Fatalf("request %d denied: %v", i+1, err)
		}
	}

	before := clk.Now()
	if err := svc.CheckAndWait(ctx, "user-1", 10); err != nil {
		t.Fatalf("parked request should be admitted after waiting: %v", err)
	}
	if waited := clk.Now().Sub(before); waited != time.Minute {
		t.Errorf("waited %v, want 1m", waited)
	}
}

func TestCheckAndWait_IndependentUsers(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: time.Second,
		Rules:   []admission.Rule{perMinuteRule(1)},
	})
	ctx := context.Background()

	if err := svc.CheckAndWait(ctx, "user-1", 1); err != nil {
		t.Fatalf("user-1 denied: %v", err)
	}
	if err := svc.CheckAndWait(ctx, "user-2", 1); err != nil {
		t.Errorf("user-2 should not share user-1's window: %v", err)
	}
}

func TestCheckAndWait_GlobalRuleSharedAcrossUsers(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: time.Second,
		Rules: []admission.Rule{{
			Name:   "global_requests_per_minute",
			Scope:  admission.ScopeGlobal,
			Unit:   admission.UnitRequests,
			Limit:  2,
			Window: time.Minute,
		}},
	})
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-2"} {
		if err := svc.CheckAndWait(ctx, user, 1); err != nil {
			t.Fatalf("%s denied: %v", user, err)
		}
	}

	var rateErr *dispatch.ErrRateLimitExceeded
	if err := svc.CheckAndWait(ctx, "user-3", 1); !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want global denial", err)
	}
}

func TestCheckAndWait_TokenRule(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: time.Second,
		Rules: []admission.Rule{{
			Name:   "user_tokens_per_minute",
			Scope:  admission.ScopePerUser,
			Unit:   admission.UnitTokens,
			Limit:  100,
			Window: time.Minute,
		}},
	})
	ctx := context.Background()

	if err := svc.CheckAndWait(ctx, "user-1", 90); err != nil {
		t.Fatalf("first request denied: %v", err)
	}

	var rateErr *dispatch.ErrRateLimitExceeded
	if err := svc.CheckAndWait(ctx, "user-1", 20); !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want token denial", err)
	}
	if err := svc.CheckAndWait(ctx, "user-1", 10); err != nil {
		t.Errorf("small request should still fit: %v", err)
	}
}

func TestCheckAndWaitWithin_PerRequestCapDenies(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: 2 * time.Minute,
		Rules:   []admission.Rule{perMinuteRule(1)},
	})
	ctx := context.Background()

	if err := svc.CheckAndWait(ctx, "user-1", 1); err != nil {
		t.Fatalf("first request denied: %v", err)
	}

	// Under the default cap this request would park for a minute and
	// succeed. A 5s per-request cap denies it instead.
	var rateErr *dispatch.ErrRateLimitExceeded
	err := svc.CheckAndWaitWithin(ctx, "user-1", 1, 5*time.Second)
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded under the 5s cap", err)
	}
}

func TestCheckAndWaitWithin_ZeroUsesConfiguredDefault(t *testing.T) {
	svc, clk := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: 2 * time.Minute,
		Rules:   []admission.Rule{perMinuteRule(1)},
	})
	ctx := context.Background()

	if err := svc.CheckAndWait(ctx, "user-1", 1); err != nil {
		t.Fatalf("first request denied: %v", err)
	}

	before := clk.Now()
	if err := svc.CheckAndWaitWithin(ctx, "user-1", 1, 0); err != nil {
		t.Fatalf("zero cap should fall back to the configured wait: %v", err)
	}
	if waited := clk.Now().Sub(before); waited != time.Minute {
		t.Errorf("waited %v, want 1m", waited)
	}
}

func TestCheckAndWait_DisabledAdmitsEverything(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: false,
		Rules:   []admission.Rule{perMinuteRule(1)},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := svc.CheckAndWait(ctx, "user-1", 1); err != nil {
			t.Fatalf("request %d denied with admission disabled: %v", i+1, err)
		}
	}
}

func TestCheckAndWait_HonorsContextWhileParked(t *testing.T) {
	svc, _ := newAdmissionFixture(t, AdmissionConfig{
		Enabled: true,
		MaxWait: 2 * time.Minute,
		Rules:   []admission.Rule{perMinuteRule(1)},
	})
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}

	ctx := context.Background()
	if err := svc.CheckAndWait(ctx, "user-1", 1); err != nil {
		t.Fatalf("first request denied: %v", err)
	}

	err := svc.CheckAndWait(ctx, "user-1", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded from the wait", err)
	}
}
