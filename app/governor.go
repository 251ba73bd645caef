package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/budget"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/domain/usage"
	"github.com/artpar/modelgate/ports"
)

// GovernorService enforces spend budgets. The primary ceiling is
// gateway-wide: every user's spend counts against one shared limit per
// period. An optional per-user tier caps individual users below that.
// Spend is derived from the usage ledger, so budget periods reset
// naturally at their boundaries without any counter state to maintain.
type GovernorService struct {
	ledger  ports.LedgerStore
	clock   ports.Clock
	metrics ports.MetricsRecorder
	logger  zerolog.Logger

	dynamicCfg atomic.Pointer[GovernorConfig]
}

// GovernorConfig contains hot-reloadable budget configuration.
// Budget is the gateway-wide ceiling; PerUser, when any of its limits
// is set, additionally caps each user on their own spend.
type GovernorConfig struct {
	Enabled bool
	Budget  budget.Config
	PerUser budget.Config
}

// GovernorDeps contains dependencies for GovernorService.
type GovernorDeps struct {
	Ledger  ports.LedgerStore
	Clock   ports.Clock
	Metrics ports.MetricsRecorder
}

// NewGovernorService creates a new budget governor.
func NewGovernorService(deps GovernorDeps, cfg GovernorConfig, logger zerolog.Logger) *GovernorService {
	s := &GovernorService{
		ledger:  deps.Ledger,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		logger:  logger,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the budget limits.
// This is thread-safe and can be called while handling requests.
func (s *GovernorService) UpdateConfig(cfg GovernorConfig) {
	s.dynamicCfg.Store(&cfg)
}

// Check decides whether a call with the given cost estimate fits the
// budget. The gateway-wide spend is checked first, then the caller's own
// spend against the per-user tier when one is configured. Crossing an
// alert threshold logs a warning but admits.
func (s *GovernorService) Check(ctx context.Context, userID string, estimatedUSD float64) error {
	cfg := s.dynamicCfg.Load()
	if !cfg.Enabled {
		return nil
	}

	spend, err := s.globalSpend(ctx)
	if err != nil {
		return fmt.Errorf("load spend: %w", err)
	}
	if err := s.enforce(userID, spend, cfg.Budget, estimatedUSD); err != nil {
		return err
	}

	if cfg.PerUser.Unlimited() {
		return nil
	}
	userSpend, err := s.userSpend(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user spend: %w", err)
	}
	return s.enforce(userID, userSpend, cfg.PerUser, estimatedUSD)
}

func (s *GovernorService) enforce(userID string, spend budget.Spend, cfg budget.Config, estimatedUSD float64) error {
	result := budget.Check(spend, cfg, estimatedUSD)

	for _, p := range result.Alerts {
		s.logger.Warn().
			Str("user_id", userID).
			Str("period", string(p)).
			Float64("projected_usd", result.ProjectedUSD).
			Msg("budget alert threshold crossed")
	}

	if !result.Allowed {
		s.metrics.RecordBudgetDenied(string(result.Exceeded))
		return &dispatch.ErrBudgetExceeded{
			Period:     result.Exceeded,
			CurrentUSD: result.CurrentUSD,
			LimitUSD:   result.LimitUSD,
		}
	}
	return nil
}

// PeriodStatus is one budget period's current standing.
type PeriodStatus struct {
	Period       budget.Period `json:"period"`
	CurrentUSD   float64       `json:"current_usd"`
	LimitUSD     float64       `json:"limit_usd"`
	RemainingUSD float64       `json:"remaining_usd"`
	Percent      float64       `json:"percent"`
}

// BudgetStatus is the governor's view for the status endpoint. Periods
// covers the gateway-wide budget; User carries the caller's own standing
// against the per-user tier when one is configured.
type BudgetStatus struct {
	Enabled bool           `json:"enabled"`
	Periods []PeriodStatus `json:"periods,omitempty"`
	User    []PeriodStatus `json:"user,omitempty"`
	Alerts  []string       `json:"alerts,omitempty"`
}

// Status reports per-period spend: gateway-wide, plus the user's own
// when a per-user tier is configured and a user is named.
func (s *GovernorService) Status(ctx context.Context, userID string) (BudgetStatus, error) {
	cfg := s.dynamicCfg.Load()
	status := BudgetStatus{Enabled: cfg.Enabled}
	if !cfg.Enabled {
		return status, nil
	}

	spend, err := s.globalSpend(ctx)
	if err != nil {
		return status, fmt.Errorf("load spend: %w", err)
	}
	status.Periods = periodStatuses(spend, cfg.Budget)
	for _, ps := range status.Periods {
		if cfg.Budget.AlertThreshold > 0 && ps.CurrentUSD >= ps.LimitUSD*cfg.Budget.AlertThreshold {
			status.Alerts = append(status.Alerts, string(ps.Period))
		}
	}

	if userID != "" && !cfg.PerUser.Unlimited() {
		userSpend, err := s.userSpend(ctx, userID)
		if err != nil {
			return status, fmt.Errorf("load user spend: %w", err)
		}
		status.User = periodStatuses(userSpend, cfg.PerUser)
	}
	return status, nil
}

func periodStatuses(spend budget.Spend, cfg budget.Config) []PeriodStatus {
	periods := []struct {
		period  budget.Period
		current float64
		limit   float64
	}{
		{budget.PeriodDaily, spend.DailyUSD, cfg.DailyLimitUSD},
		{budget.PeriodWeekly, spend.WeeklyUSD, cfg.WeeklyLimitUSD},
		{budget.PeriodMonthly, spend.MonthlyUSD, cfg.MonthlyLimitUSD},
	}

	var out []PeriodStatus
	for _, p := range periods {
		if p.limit <= 0 {
			continue
		}
		out = append(out, PeriodStatus{
			Period:       p.period,
			CurrentUSD:   p.current,
			LimitUSD:     p.limit,
			RemainingUSD: p.limit - p.current,
			Percent:      p.current / p.limit * 100,
		})
	}
	return out
}

// UsageBreakdown is aggregated usage for one model or user.
type UsageBreakdown struct {
	Subject      string  `json:"subject"`
	Requests     int64   `json:"requests"`
	SuccessRate  float64 `json:"success_rate"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// UsageReport summarizes the current month's ledger activity with a
// linear end-of-month spend forecast.
type UsageReport struct {
	ByModel            []UsageBreakdown `json:"by_model,omitempty"`
	ByUser             []UsageBreakdown `json:"by_user,omitempty"`
	MonthToDateUSD     float64          `json:"month_to_date_usd"`
	ForecastMonthlyUSD float64          `json:"forecast_monthly_usd"`
}

// UsageReport builds the month-to-date usage summary.
func (s *GovernorService) UsageReport(ctx context.Context) (UsageReport, error) {
	now := s.clock.Now()
	start := budget.PeriodStart(budget.PeriodMonthly, now)
	end := budget.PeriodEnd(budget.PeriodMonthly, now)

	records, err := s.ledger.RecordsSince(ctx, start)
	if err != nil {
		return UsageReport{}, fmt.Errorf("load records: %w", err)
	}

	var report UsageReport
	for _, st := range usage.ByModel(records, start, end) {
		report.ByModel = append(report.ByModel, breakdownOf(st))
		report.MonthToDateUSD += st.TotalCostUSD
	}
	for _, st := range usage.ByUser(records, start, end) {
		report.ByUser = append(report.ByUser, breakdownOf(st))
	}
	report.ForecastMonthlyUSD = budget.ForecastMonthly(report.MonthToDateUSD, now)
	return report, nil
}

// UserUsage aggregates one user's activity over the current month.
func (s *GovernorService) UserUsage(ctx context.Context, userID string) (UsageBreakdown, error) {
	now := s.clock.Now()
	start := budget.PeriodStart(budget.PeriodMonthly, now)
	end := budget.PeriodEnd(budget.PeriodMonthly, now)

	stats, err := s.ledger.UserStats(ctx, userID, start, end)
	if err != nil {
		return UsageBreakdown{}, fmt.Errorf("load user stats: %w", err)
	}
	return breakdownOf(stats), nil
}

func breakdownOf(s usage.Stats) UsageBreakdown {
	return UsageBreakdown{
		Subject:      s.Subject,
		Requests:     s.Requests,
		SuccessRate:  s.SuccessRate,
		TotalTokens:  s.TotalTokens,
		TotalCostUSD: s.TotalCostUSD,
	}
}

func (s *GovernorService) globalSpend(ctx context.Context) (budget.Spend, error) {
	now := s.clock.Now()
	records, err := s.ledger.RecordsSince(ctx, spendWindowStart(now))
	if err != nil {
		return budget.Spend{}, err
	}
	return usage.SpendByPeriod(records, now), nil
}

func (s *GovernorService) userSpend(ctx context.Context, userID string) (budget.Spend, error) {
	now := s.clock.Now()
	records, err := s.ledger.UserRecordsSince(ctx, userID, spendWindowStart(now))
	if err != nil {
		return budget.Spend{}, err
	}
	return usage.SpendByPeriod(records, now), nil
}

// spendWindowStart is the earliest timestamp any budget period containing
// now can reach back to. The monthly window contains the daily and weekly
// ones, except when the week straddles a month boundary.
func spendWindowStart(now time.Time) time.Time {
	since := budget.PeriodStart(budget.PeriodMonthly, now)
	if weekStart := budget.PeriodStart(budget.PeriodWeekly, now); weekStart.Before(since) {
		since = weekStart
	}
	return since
}
