package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/ports"
)

// GlobalSubject is the window subject for global-scope rules.
const GlobalSubject = "global"

// AdmissionService gates requests on sliding-window rate limits.
// The window math is pure; this service owns the stored windows and the
// bounded wait-and-retry behavior.
type AdmissionService struct {
	windows ports.WindowStore
	clock   ports.Clock
	metrics ports.MetricsRecorder
	logger  zerolog.Logger

	// Serializes check-then-admit so concurrent requests cannot both
	// slip under the same ceiling.
	mu sync.Mutex

	dynamicCfg atomic.Pointer[AdmissionConfig]

	sleep func(ctx context.Context, d time.Duration) error
}

// AdmissionConfig contains hot-reloadable admission configuration.
type AdmissionConfig struct {
	Enabled bool
	MaxWait time.Duration // longest a request is parked before denial
	Rules   []admission.Rule
}

// AdmissionDeps contains dependencies for AdmissionService.
type AdmissionDeps struct {
	Windows ports.WindowStore
	Clock   ports.Clock
	Metrics ports.MetricsRecorder
}

// NewAdmissionService creates a new admission service.
func NewAdmissionService(deps AdmissionDeps, cfg AdmissionConfig, logger zerolog.Logger) *AdmissionService {
	if len(cfg.Rules) == 0 {
		cfg.Rules = admission.DefaultRules()
	}

	s := &AdmissionService{
		windows: deps.Windows,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		logger:  logger,
		sleep:   sleepCtx,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the admission rules.
// This is thread-safe and can be called while handling requests.
func (s *AdmissionService) UpdateConfig(cfg AdmissionConfig) {
	if len(cfg.Rules) == 0 {
		cfg.Rules = admission.DefaultRules()
	}
	s.dynamicCfg.Store(&cfg)
}

// AdmissionInfo is a point-in-time view of the admission tuning, for
// status reporting.
type AdmissionInfo struct {
	Enabled        bool  `json:"enabled"`
	MaxWaitSeconds int64 `json:"max_wait_seconds"`
	Rules          int   `json:"rules"`
}

// Info reports the currently active admission configuration.
func (s *AdmissionService) Info() AdmissionInfo {
	cfg := s.dynamicCfg.Load()
	return AdmissionInfo{
		Enabled:        cfg.Enabled,
		MaxWaitSeconds: int64(cfg.MaxWait / time.Second),
		Rules:          len(cfg.Rules),
	}
}

// CheckAndWait admits the request or parks it until the window frees up.
// A wait longer than MaxWait, or a second denial after waiting, fails with
// ErrRateLimitExceeded. The caller's deadline is honored while parked.
func (s *AdmissionService) CheckAndWait(ctx context.Context, userID string, tokens int64) error {
	return s.CheckAndWaitWithin(ctx, userID, tokens, 0)
}

// CheckAndWaitWithin is CheckAndWait with a per-request cap on how long
// the request may be parked. A zero maxWait uses the configured default;
// the configured MaxWait is never exceeded.
func (s *AdmissionService) CheckAndWaitWithin(ctx context.Context, userID string, tokens int64, maxWait time.Duration) error {
	cfg := s.dynamicCfg.Load()
	if !cfg.Enabled {
		return nil
	}
	if maxWait <= 0 || maxWait > cfg.MaxWait {
		maxWait = cfg.MaxWait
	}

	denied, err := s.tryAdmit(ctx, cfg, userID, tokens)
	if err != nil {
		return err
	}
	if denied == nil {
		return nil
	}

	wait := denied.RetryAfter
	if wait <= 0 || wait > maxWait {
		return s.deny(userID, denied)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("rule", denied.Rule.Name).
		Dur("wait", wait).
		Msg("request parked by admission control")

	if err := s.sleep(ctx, wait); err != nil {
		return fmt.Errorf("admission wait: %w", err)
	}

	denied, err = s.tryAdmit(ctx, cfg, userID, tokens)
	if err != nil {
		return err
	}
	if denied != nil {
		return s.deny(userID, denied)
	}
	return nil
}

// tryAdmit evaluates every rule and, when all pass, appends the request to
// every window. Returns the tightest denial otherwise.
func (s *AdmissionService) tryAdmit(ctx context.Context, cfg *AdmissionConfig, userID string, tokens int64) (*admission.CheckResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	type loaded struct {
		rule    admission.Rule
		subject string
		window  admission.Window
	}
	windows := make([]loaded, 0, len(cfg.Rules))

	var denied *admission.CheckResult
	for _, rule := range cfg.Rules {
		subject := userID
		if rule.Scope == admission.ScopeGlobal {
			subject = GlobalSubject
		}

		w, err := s.windows.Get(ctx, rule.Name, subject)
		if err != nil {
			return nil, fmt.Errorf("load window %s: %w", rule.Name, err)
		}

		result := admission.Check(w, rule, tokens, now)
		if !result.Allowed {
			// All denying rules must clear before admission, so the
			// needed wait is the longest of them.
			if denied == nil || result.RetryAfter > denied.RetryAfter {
				r := result
				denied = &r
			}
			continue
		}
		windows = append(windows, loaded{rule: rule, subject: subject, window: w})
	}
	if denied != nil {
		return denied, nil
	}

	for _, l := range windows {
		admitted := admission.Admit(admission.Trim(l.window, l.rule, now), tokens, now)
		if err := s.windows.Set(ctx, l.rule.Name, l.subject, admitted); err != nil {
			return nil, fmt.Errorf("store window %s: %w", l.rule.Name, err)
		}
	}
	return nil, nil
}

func (s *AdmissionService) deny(userID string, result *admission.CheckResult) error {
	s.metrics.RecordAdmissionDenied(result.Rule.Name)
	s.logger.Info().
		Str("user_id", userID).
		Str("rule", result.Rule.Name).
		Int64("current", result.Current).
		Dur("retry_after", result.RetryAfter).
		Msg("request denied by admission control")

	return &dispatch.ErrRateLimitExceeded{
		Rule:       result.Rule.Name,
		RetryAfter: result.RetryAfter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
