// Package cache provides pure functions for response caching: key
// derivation, entry expiry, and fuzzy similarity matching.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/artpar/modelgate/domain/conversation"
)

// Strategy selects how lookups match stored entries.
type Strategy string

const (
	StrategyExact    Strategy = "exact"
	StrategyFuzzy    Strategy = "fuzzy"
	StrategySemantic Strategy = "semantic"
)

// Entry is one cached response (value type). UserID, SessionID,
// Language, and Prompt snapshot the conversation state the response
// was produced under.
type Entry struct {
	Key              string                `json:"key"`
	UserID           string                `json:"user_id"`
	SessionID        string                `json:"session_id,omitempty"`
	Response         string                `json:"response"`
	ModelID          string                `json:"model_id"`
	Language         conversation.Language `json:"language"`
	Prompt           string                `json:"prompt"` // last user message, used for fuzzy matching
	Tags             []string              `json:"tags,omitempty"`
	PromptTokens     int                   `json:"prompt_tokens"`
	CompletionTokens int                   `json:"completion_tokens"`
	CostUSD          float64               `json:"cost_usd"`
	CreatedAt        time.Time             `json:"created_at"`
	AccessedAt       time.Time             `json:"accessed_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
	Hits             int64                 `json:"hits"`
}

// HasTag reports whether the entry carries the tag.
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Expired reports whether the entry has passed its TTL.
// This is a PURE function.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type keyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type keyInput struct {
	Messages []keyMessage          `json:"messages"`
	Language conversation.Language `json:"language"`
	UserID   string                `json:"user_id"`
}

// Key derives a deterministic cache key from the last messages of a
// conversation, the detected language, and the user. Only the trailing
// messages participate so that long histories with identical recent turns
// still hit. This is a PURE function.
func Key(messages []conversation.Message, lang conversation.Language, userID string, depth int) string {
	if depth <= 0 {
		depth = 3
	}
	if len(messages) > depth {
		messages = messages[len(messages)-depth:]
	}

	in := keyInput{Language: lang, UserID: userID}
	for _, m := range messages {
		in.Messages = append(in.Messages, keyMessage{
			Role:    string(m.Role),
			Content: strings.TrimSpace(strings.ToLower(m.Content)),
		})
	}

	raw, _ := json.Marshal(in)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:32]
}

// Similarity computes the Jaccard similarity of the word sets of two texts.
// Returns a value in 0..1. This is a PURE function.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// BestFuzzyMatch scans candidate entries for the one whose prompt is most
// similar to the query, subject to the threshold. Expired entries never
// match. Returns false when nothing clears the threshold.
// This is a PURE function.
func BestFuzzyMatch(query string, candidates []Entry, threshold float64, now time.Time) (Entry, bool) {
	var best Entry
	bestScore := -1.0
	for _, e := range candidates {
		if e.Expired(now) {
			continue
		}
		score := Similarity(query, e.Prompt)
		if score >= threshold && score > bestScore {
			best = e
			bestScore = score
		}
	}
	return best, bestScore >= 0
}

func wordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()[]{}،؟")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
