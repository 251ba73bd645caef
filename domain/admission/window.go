// Package admission provides pure sliding-window admission control.
// All functions are deterministic - same input always produces same output.
package admission

import (
	"sort"
	"time"
)

// Scope determines what a rule counts against.
type Scope string

const (
	ScopePerUser Scope = "per_user"
	ScopeGlobal  Scope = "global"
)

// Unit determines whether a rule counts requests or tokens.
type Unit string

const (
	UnitRequests Unit = "requests"
	UnitTokens   Unit = "tokens"
)

// Rule is one sliding-window limit (value type).
type Rule struct {
	Name   string
	Scope  Scope
	Unit   Unit
	Limit  int64
	Window time.Duration
}

// DefaultRules returns the production default admission rules.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "user_requests_per_minute", Scope: ScopePerUser, Unit: UnitRequests, Limit: 60, Window: time.Minute},
		{Name: "user_requests_per_hour", Scope: ScopePerUser, Unit: UnitRequests, Limit: 3600, Window: time.Hour},
		{Name: "user_requests_per_day", Scope: ScopePerUser, Unit: UnitRequests, Limit: 86400, Window: 24 * time.Hour},
		{Name: "user_tokens_per_minute", Scope: ScopePerUser, Unit: UnitTokens, Limit: 100_000, Window: time.Minute},
		{Name: "user_tokens_per_hour", Scope: ScopePerUser, Unit: UnitTokens, Limit: 1_000_000, Window: time.Hour},
		{Name: "global_requests_per_minute", Scope: ScopeGlobal, Unit: UnitRequests, Limit: 600, Window: time.Minute},
	}
}

// Entry records one admitted request inside a window (value type).
type Entry struct {
	At     time.Time
	Tokens int64 // token weight of the request
}

// Window holds the admitted entries for one (rule, subject) pair.
// Entries are kept in arrival order.
type Window struct {
	Entries []Entry
}

// Trim drops entries older than the rule window.
// This is a PURE function - it returns a new Window.
func Trim(w Window, rule Rule, now time.Time) Window {
	cutoff := now.Add(-rule.Window)
	i := sort.Search(len(w.Entries), func(i int) bool {
		return w.Entries[i].At.After(cutoff)
	})
	if i == 0 {
		return w
	}
	kept := make([]Entry, len(w.Entries)-i)
	copy(kept, w.Entries[i:])
	return Window{Entries: kept}
}

// Usage sums the window's entries in the rule's unit.
// This is a PURE function.
func Usage(w Window, rule Rule) int64 {
	if rule.Unit == UnitRequests {
		return int64(len(w.Entries))
	}
	var total int64
	for _, e := range w.Entries {
		total += e.Tokens
	}
	return total
}

// CheckResult represents the outcome of an admission check (value type).
type CheckResult struct {
	Allowed    bool
	Rule       Rule          // the rule that denied, or the tightest rule when allowed
	Current    int64         // usage in that rule's window
	Remaining  int64         // headroom in that rule's window
	RetryAfter time.Duration // how long until the denying rule admits one more unit
}

// Check evaluates one rule against a trimmed window and the cost of the
// incoming request (1 for request rules, the token weight for token rules).
// This is a PURE function.
func Check(w Window, rule Rule, cost int64, now time.Time) CheckResult {
	w = Trim(w, rule, now)
	current := Usage(w, rule)

	if rule.Unit == UnitRequests {
		cost = 1
	}

	if current+cost <= rule.Limit {
		return CheckResult{
			Allowed:   true,
			Rule:      rule,
			Current:   current,
			Remaining: rule.Limit - current - cost,
		}
	}

	return CheckResult{
		Allowed:    false,
		Rule:       rule,
		Current:    current,
		Remaining:  max64(0, rule.Limit-current),
		RetryAfter: RetryAfter(w, rule, cost, now),
	}
}

// RetryAfter computes how long until enough entries age out of the window
// for a request of the given cost to be admitted.
// This is a PURE function.
func RetryAfter(w Window, rule Rule, cost int64, now time.Time) time.Duration {
	w = Trim(w, rule, now)
	if len(w.Entries) == 0 {
		return 0
	}
	if rule.Unit == UnitRequests {
		cost = 1
	}

	// Walk entries oldest first until dropping them frees enough headroom.
	freed := int64(0)
	current := Usage(w, rule)
	for _, e := range w.Entries {
		if rule.Unit == UnitRequests {
			freed++
		} else {
			freed += e.Tokens
		}
		if current-freed+cost <= rule.Limit {
			d := e.At.Add(rule.Window).Sub(now)
			if d < 0 {
				return 0
			}
			return d
		}
	}

	// Even an empty window cannot fit the request (cost > limit).
	last := w.Entries[len(w.Entries)-1]
	d := last.At.Add(rule.Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Admit appends the admitted request to the window.
// This is a PURE function - it returns a new Window.
func Admit(w Window, tokens int64, now time.Time) Window {
	entries := make([]Entry, len(w.Entries), len(w.Entries)+1)
	copy(entries, w.Entries)
	return Window{Entries: append(entries, Entry{At: now, Tokens: tokens})}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
