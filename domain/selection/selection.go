// Package selection scores and ranks backend models for a dispatch request.
// All functions here are pure.
package selection

import (
	"sort"

	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/model"
)

// Criteria describes what the request needs from a model.
type Criteria struct {
	Language       conversation.Language
	Capability     model.Capability // required capability, empty = chat
	HistoryLength  int              // messages in the conversation so far
	PreferredModel string           // explicit model override, empty = auto
	PreferFree     bool             // only free models are eligible
	MaxCostPer1K   float64          // ceiling on output cost per 1K tokens, 0 = none
}

// Scored pairs a model with the score it earned.
type Scored struct {
	Model model.Descriptor
	Score float64
}

// Result holds the chosen model and its ordered fallbacks.
type Result struct {
	Primary   model.Descriptor
	Fallbacks []model.Descriptor
	Scores    []Scored // full ranking, highest first
}

// Eligible filters candidates down to the models that can serve the
// criteria at all: available, supporting the language (auto matches
// everything), within the cost ceiling, advertising the required
// capability, and free when the caller demands it. Scoring only ranks
// what survives this filter. This is a PURE function.
func Eligible(candidates []model.Descriptor, c Criteria) []model.Descriptor {
	capability := c.Capability
	if capability == "" {
		capability = model.CapabilityChat
	}

	eligible := model.FilterAvailable(model.FilterByCapability(candidates, capability))
	if c.Language != "" && c.Language != conversation.LanguageAuto {
		eligible = model.FilterByLanguage(eligible, c.Language)
	}

	var out []model.Descriptor
	for _, m := range eligible {
		if c.MaxCostPer1K > 0 && m.CostPer1KOut > c.MaxCostPer1K {
			continue
		}
		if c.PreferFree && !m.IsFree() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Score computes the routing score for one model against the criteria.
// Higher is better. This is a PURE function.
func Score(m model.Descriptor, c Criteria) float64 {
	score := float64(10-m.Priority) * 10

	if m.SupportsLanguage(c.Language) {
		score += 20
	}
	if c.Language == conversation.LanguageArabic && m.HasCapability(model.CapabilityCulturalAware) {
		score += 15
	}

	if m.IsFree() {
		score += 30
	} else {
		score += maxf(0, 10-m.CostPer1KOut/0.5)
	}

	// Long conversations favor large context windows.
	if c.HistoryLength > 10 {
		switch {
		case m.ContextWindow > 50000:
			score += 10
		case m.ContextWindow > 20000:
			score += 5
		}
	}

	score += m.SuccessRate * 15
	score += maxf(0, 10-m.AvgLatency.Seconds()/2)

	if !m.Available() {
		score -= 50
	}

	return score
}

// Select ranks the candidate models and returns the best one with up to
// maxFallbacks alternates. Ties break by priority, then by ID, so the
// ranking is stable across calls. This is a PURE function.
func Select(candidates []model.Descriptor, c Criteria, maxFallbacks int) (Result, bool) {
	if c.PreferredModel != "" {
		for _, m := range candidates {
			if m.ID == c.PreferredModel && m.Available() {
				return Result{Primary: m}, true
			}
		}
		// Preferred model missing or down: fall through to scoring.
	}

	eligible := Eligible(candidates, c)
	if len(eligible) == 0 {
		return Result{}, false
	}

	scored := make([]Scored, 0, len(eligible))
	for _, m := range eligible {
		scored = append(scored, Scored{Model: m, Score: Score(m, c)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Model.Priority != scored[j].Model.Priority {
			return scored[i].Model.Priority < scored[j].Model.Priority
		}
		return scored[i].Model.ID < scored[j].Model.ID
	})

	r := Result{Primary: scored[0].Model, Scores: scored}
	for _, s := range scored[1:] {
		if len(r.Fallbacks) >= maxFallbacks {
			break
		}
		r.Fallbacks = append(r.Fallbacks, s.Model)
	}
	return r, true
}

// Chain returns the primary followed by the fallbacks as one attempt order.
// This is a PURE function.
func (r Result) Chain() []model.Descriptor {
	chain := make([]model.Descriptor, 0, 1+len(r.Fallbacks))
	chain = append(chain, r.Primary)
	chain = append(chain, r.Fallbacks...)
	return chain
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
