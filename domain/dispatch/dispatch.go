// Package dispatch defines the request/response types and error taxonomy
// for routing completions to backend models.
package dispatch

import (
	"time"

	"github.com/artpar/modelgate/domain/budget"
	"github.com/artpar/modelgate/domain/conversation"
)

// Request is one completion dispatch (value type).
type Request struct {
	UserID         string                 `json:"user_id"`
	SessionID      string                 `json:"session_id"`
	Messages       []conversation.Message `json:"messages"`
	Language       conversation.Language  `json:"language,omitempty"` // empty or "auto" = detect
	PreferredModel string                 `json:"model,omitempty"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	SkipCache      bool                   `json:"skip_cache,omitempty"`

	// Routing options. PreferFree restricts selection to free models,
	// MaxCostPer1K caps the output price of eligible models, and
	// RequireFunctions demands function-calling support.
	PreferFree       bool    `json:"prefer_free,omitempty"`
	MaxCostPer1K     float64 `json:"max_cost_per_1k,omitempty"`
	RequireFunctions bool    `json:"require_functions,omitempty"`

	// TemplateID names a prompt template applied before dispatch.
	// Unknown ids are ignored.
	TemplateID string `json:"template_id,omitempty"`

	// MaxWaitSeconds overrides the configured admission wait ceiling
	// for this request. Zero uses the service default.
	MaxWaitSeconds int `json:"max_wait_seconds,omitempty"`
}

// LastUserMessage returns the content of the most recent user turn.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == conversation.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Response is the outcome of a successful dispatch (value type).
type Response struct {
	Content          string                `json:"content"`
	ModelID          string                `json:"model_id"`
	Provider         string                `json:"provider"`
	Language         conversation.Language `json:"language"`
	Confidence       float64               `json:"language_confidence"`
	PromptTokens     int                   `json:"prompt_tokens"`
	CompletionTokens int                   `json:"completion_tokens"`
	CostUSD          float64               `json:"cost_usd"`
	Cached           bool                  `json:"cached"`
	FallbackDepth    int                   `json:"fallback_depth"`
	Latency          time.Duration         `json:"latency_ms"`
}

// Attempt records one try against one model during a dispatch.
type Attempt struct {
	ModelID string
	Err     error
	Latency time.Duration
}

// ErrModelNotAvailable means no model matched the request criteria.
type ErrModelNotAvailable struct {
	Language   conversation.Language
	Capability string
}

func (e *ErrModelNotAvailable) Error() string {
	return "no available model for language " + string(e.Language)
}

// ErrBudgetExceeded means the projected cost would overrun a spend limit.
type ErrBudgetExceeded struct {
	Period     budget.Period
	CurrentUSD float64
	LimitUSD   float64
}

func (e *ErrBudgetExceeded) Error() string {
	return "budget exceeded for period " + string(e.Period)
}

// ErrRateLimitExceeded means the gateway's own admission control denied
// the request (distinct from an upstream 429).
type ErrRateLimitExceeded struct {
	Rule       string
	RetryAfter time.Duration
}

func (e *ErrRateLimitExceeded) Error() string {
	return "rate limit exceeded: " + e.Rule
}

// ErrUpstreamRateLimited means a backend returned 429 for one attempt.
type ErrUpstreamRateLimited struct {
	ModelID    string
	RetryAfter time.Duration
}

func (e *ErrUpstreamRateLimited) Error() string {
	return "upstream rate limited: " + e.ModelID
}

// ErrTransient means a backend attempt failed in a retryable way
// (5xx, timeout, connection failure).
type ErrTransient struct {
	ModelID    string
	StatusCode int
	Cause      error
}

func (e *ErrTransient) Error() string {
	return "transient backend error: " + e.ModelID
}

func (e *ErrTransient) Unwrap() error { return e.Cause }

// ErrPermanent means a backend rejected the request in a way a retry
// cannot fix (4xx other than 429).
type ErrPermanent struct {
	ModelID    string
	StatusCode int
	Detail     string
}

func (e *ErrPermanent) Error() string {
	return "permanent backend error: " + e.ModelID
}

// ErrChainExhausted means every model in the fallback chain failed.
type ErrChainExhausted struct {
	Attempts []Attempt
}

func (e *ErrChainExhausted) Error() string {
	return "all models in the fallback chain failed"
}

// LastError returns the error of the final attempt, or nil.
func (e *ErrChainExhausted) LastError() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Unwrap exposes the final attempt's error to errors.Is and errors.As.
func (e *ErrChainExhausted) Unwrap() error { return e.LastError() }

// Retryable reports whether an attempt error should advance the fallback
// chain rather than fail the dispatch.
// This is a PURE function.
func Retryable(err error) bool {
	switch err.(type) {
	case *ErrTransient, *ErrUpstreamRateLimited:
		return true
	default:
		return false
	}
}
