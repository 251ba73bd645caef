// Package usage provides dispatch usage record types and aggregation.
// All functions are pure - no side effects.
package usage

import (
	"sort"
	"time"

	"github.com/artpar/modelgate/domain/budget"
)

// Outcome classifies how a dispatch attempt ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeTransient Outcome = "transient_error"
	OutcomePermanent Outcome = "permanent_error"
	OutcomeRateLimit Outcome = "upstream_rate_limited"
	OutcomeTimeout   Outcome = "timeout"
)

// Record represents one dispatch attempt against a backend model
// (immutable value type). One record per attempt, including failures.
type Record struct {
	ID               string
	UserID           string
	SessionID        string
	ModelID          string
	Provider         string
	Language         string
	Outcome          Outcome
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMs        int64
	Cached           bool
	FallbackDepth    int // 0 = primary model, 1+ = position in the fallback chain
	Timestamp        time.Time
}

// TotalTokens returns prompt plus completion tokens.
func (r Record) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// IsError reports whether the attempt failed.
func (r Record) IsError() bool {
	return r.Outcome != OutcomeSuccess && r.Outcome != OutcomeCacheHit
}

// Stats aggregates records for a user or model over a period (value type).
type Stats struct {
	Subject       string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Requests      int64
	Successes     int64
	Errors        int64
	CacheHits     int64
	TotalTokens   int64
	TotalCostUSD  float64
	AvgLatencyMs  int64
	SuccessRate   float64 // successes / non-cache attempts
	FallbackCount int64   // attempts beyond the primary model
}

// Aggregate folds records into period stats.
// This is a PURE function.
func Aggregate(subject string, records []Record, start, end time.Time) Stats {
	s := Stats{Subject: subject, PeriodStart: start, PeriodEnd: end}

	var latencySum int64
	var attempts int64
	for _, r := range records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		s.Requests++
		s.TotalTokens += int64(r.TotalTokens())
		s.TotalCostUSD += r.CostUSD

		switch {
		case r.Outcome == OutcomeCacheHit:
			s.CacheHits++
		case r.Outcome == OutcomeSuccess:
			s.Successes++
			attempts++
		default:
			s.Errors++
			attempts++
		}

		if r.FallbackDepth > 0 {
			s.FallbackCount++
		}
		latencySum += r.LatencyMs
	}

	if s.Requests > 0 {
		s.AvgLatencyMs = latencySum / s.Requests
	}
	if attempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(attempts)
	}
	return s
}

// ByModel groups records by model and aggregates each group over the
// window. Groups come back sorted by total cost, highest first.
// This is a PURE function.
func ByModel(records []Record, start, end time.Time) []Stats {
	return groupStats(records, start, end, func(r Record) string { return r.ModelID })
}

// ByUser groups records by user and aggregates each group over the
// window. Groups come back sorted by total cost, highest first.
// This is a PURE function.
func ByUser(records []Record, start, end time.Time) []Stats {
	return groupStats(records, start, end, func(r Record) string { return r.UserID })
}

func groupStats(records []Record, start, end time.Time, keyOf func(Record) string) []Stats {
	groups := map[string][]Record{}
	var order []string
	for _, r := range records {
		k := keyOf(r)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]Stats, 0, len(order))
	for _, k := range order {
		out = append(out, Aggregate(k, groups[k], start, end))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalCostUSD != out[j].TotalCostUSD {
			return out[i].TotalCostUSD > out[j].TotalCostUSD
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// SpendByPeriod sums the cost of records falling in each budget period
// containing now. Cache hits carry zero cost but are summed all the same.
// This is a PURE function.
func SpendByPeriod(records []Record, now time.Time) budget.Spend {
	dayStart := budget.PeriodStart(budget.PeriodDaily, now)
	weekStart := budget.PeriodStart(budget.PeriodWeekly, now)
	monthStart := budget.PeriodStart(budget.PeriodMonthly, now)

	var s budget.Spend
	for _, r := range records {
		ts := r.Timestamp.UTC()
		if ts.After(now) {
			continue
		}
		if !ts.Before(dayStart) {
			s.DailyUSD += r.CostUSD
		}
		if !ts.Before(weekStart) {
			s.WeeklyUSD += r.CostUSD
		}
		if !ts.Before(monthStart) {
			s.MonthlyUSD += r.CostUSD
		}
	}
	return s
}
