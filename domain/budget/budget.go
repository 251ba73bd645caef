// Package budget provides pure functions for spend-budget enforcement.
// All functions are deterministic with no side effects.
package budget

import "time"

// Period identifies a budget accounting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Config represents spend limits per period (value type).
// A zero limit means that period is unlimited.
type Config struct {
	DailyLimitUSD   float64
	WeeklyLimitUSD  float64
	MonthlyLimitUSD float64
	AlertThreshold  float64 // fraction of a limit that triggers an alert (e.g. 0.8)
}

// DefaultConfig returns the production default budget.
func DefaultConfig() Config {
	return Config{
		DailyLimitUSD:   50,
		WeeklyLimitUSD:  300,
		MonthlyLimitUSD: 1000,
		AlertThreshold:  0.8,
	}
}

// Unlimited reports whether no period carries a limit.
// This is a PURE function.
func (c Config) Unlimited() bool {
	return c.DailyLimitUSD <= 0 && c.WeeklyLimitUSD <= 0 && c.MonthlyLimitUSD <= 0
}

// Spend holds the accumulated spend per period (value type).
type Spend struct {
	DailyUSD   float64
	WeeklyUSD  float64
	MonthlyUSD float64
}

// CheckResult represents the outcome of a budget check (value type).
type CheckResult struct {
	Allowed        bool
	Exceeded       Period  // set when not allowed
	CurrentUSD     float64 // spend in the exceeded or tightest period
	LimitUSD       float64
	Alerts         []Period // periods past the alert threshold
	RemainingUSD   float64  // headroom in the tightest period
	ProjectedUSD   float64  // spend in the tightest period if the call proceeds
	TightestPeriod Period
}

// Check decides whether a call costing estimatedUSD fits within the budget.
// This is a PURE function - no side effects.
func Check(spend Spend, cfg Config, estimatedUSD float64) CheckResult {
	type window struct {
		period  Period
		current float64
		limit   float64
	}
	windows := []window{
		{PeriodDaily, spend.DailyUSD, cfg.DailyLimitUSD},
		{PeriodWeekly, spend.WeeklyUSD, cfg.WeeklyLimitUSD},
		{PeriodMonthly, spend.MonthlyUSD, cfg.MonthlyLimitUSD},
	}

	result := CheckResult{Allowed: true, RemainingUSD: -1}

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		projected := w.current + estimatedUSD

		if cfg.AlertThreshold > 0 && projected >= w.limit*cfg.AlertThreshold {
			result.Alerts = append(result.Alerts, w.period)
		}

		remaining := w.limit - w.current
		if result.RemainingUSD < 0 || remaining < result.RemainingUSD {
			result.RemainingUSD = remaining
			result.TightestPeriod = w.period
			result.CurrentUSD = w.current
			result.LimitUSD = w.limit
			result.ProjectedUSD = projected
		}

		if projected > w.limit && result.Allowed {
			result.Allowed = false
			result.Exceeded = w.period
			result.CurrentUSD = w.current
			result.LimitUSD = w.limit
			result.ProjectedUSD = projected
		}
	}

	if result.RemainingUSD < 0 {
		result.RemainingUSD = 0
	}
	return result
}

// PeriodStart returns the UTC start of the period containing t.
// Daily resets at midnight, weekly on Monday, monthly on the 1st.
// This is a PURE function.
func PeriodStart(p Period, t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		days := (int(t.Weekday()) + 6) % 7 // Monday = 0
		monday := t.AddDate(0, 0, -days)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// PeriodEnd returns the UTC end (exclusive) of the period containing t.
// This is a PURE function.
func PeriodEnd(p Period, t time.Time) time.Time {
	start := PeriodStart(p, t)
	switch p {
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// ForecastMonthly projects end-of-month spend from the month-to-date
// total, assuming the daily burn rate so far continues. The day
// containing now counts as elapsed. This is a PURE function.
func ForecastMonthly(spentUSD float64, now time.Time) float64 {
	if spentUSD <= 0 {
		return 0
	}
	start := PeriodStart(PeriodMonthly, now)
	end := PeriodEnd(PeriodMonthly, now)
	daysInMonth := end.Sub(start).Hours() / 24

	elapsed := float64(now.UTC().Day())
	return spentUSD / elapsed * daysInMonth
}

// EstimateCallCost projects the dollar cost of a call before it is made.
// promptTokens of 0 falls back to a conservative default, and completion
// tokens are assumed to be 30% of the prompt. The floor avoids treating
// tiny calls as free. This is a PURE function.
func EstimateCallCost(promptTokens int, costPer1KIn, costPer1KOut float64) float64 {
	if promptTokens <= 0 {
		promptTokens = 500
	}
	completionTokens := promptTokens * 30 / 100

	cost := float64(promptTokens)/1000*costPer1KIn +
		float64(completionTokens)/1000*costPer1KOut
	if cost < 0.001 {
		cost = 0.001
	}
	return cost
}
