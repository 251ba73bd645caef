// Package model defines the backend model descriptors the gateway routes to.
// All functions here are pure - catalog state lives in app/catalog.
package model

import (
	"time"

	"github.com/artpar/modelgate/domain/conversation"
)

// Capability is a feature a backend model advertises.
type Capability string

const (
	CapabilityChat            Capability = "chat"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityVision          Capability = "vision"
	CapabilityLongContext     Capability = "long_context"
	CapabilityCulturalAware   Capability = "cultural_aware"
)

// Status is a model's availability state.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusDegraded    Status = "degraded"
)

// Descriptor describes one routable backend model (value type).
type Descriptor struct {
	ID            string                  `json:"id"`
	Provider      string                  `json:"provider"`
	DisplayName   string                  `json:"display_name"`
	Priority      int                     `json:"priority"` // 1 = highest
	CostPer1KIn   float64                 `json:"cost_per_1k_in"`
	CostPer1KOut  float64                 `json:"cost_per_1k_out"`
	ContextWindow int                     `json:"context_window"`
	MaxOutput     int                     `json:"max_output"`
	Languages     []conversation.Language `json:"languages"`
	Capabilities  []Capability            `json:"capabilities"`
	Status        Status                  `json:"status"`
	SuccessRate   float64                 `json:"success_rate"` // 0..1
	AvgLatency    time.Duration           `json:"avg_latency"`
}

// IsFree reports whether the model has no output cost.
func (d Descriptor) IsFree() bool {
	return d.CostPer1KOut == 0 && d.CostPer1KIn == 0
}

// Available reports whether the model can accept traffic.
func (d Descriptor) Available() bool {
	return d.Status == StatusAvailable || d.Status == StatusDegraded
}

// SupportsLanguage reports whether the model lists lang.
// A model with no language list supports everything.
func (d Descriptor) SupportsLanguage(lang conversation.Language) bool {
	if len(d.Languages) == 0 {
		return true
	}
	for _, l := range d.Languages {
		if l == lang || l == conversation.LanguageAuto {
			return true
		}
	}
	return false
}

// HasCapability reports whether the model advertises cap.
func (d Descriptor) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// EstimateCost computes the dollar cost of a call with the given token counts.
// This is a PURE function.
func (d Descriptor) EstimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*d.CostPer1KIn +
		float64(completionTokens)/1000*d.CostPer1KOut
}

// FilterByCapability returns the models advertising cap, preserving order.
// This is a PURE function.
func FilterByCapability(models []Descriptor, cap Capability) []Descriptor {
	var out []Descriptor
	for _, m := range models {
		if m.HasCapability(cap) {
			out = append(out, m)
		}
	}
	return out
}

// FilterByLanguage returns the models supporting lang, preserving order.
// This is a PURE function.
func FilterByLanguage(models []Descriptor, lang conversation.Language) []Descriptor {
	var out []Descriptor
	for _, m := range models {
		if m.SupportsLanguage(lang) {
			out = append(out, m)
		}
	}
	return out
}

// FilterAvailable returns the models that can accept traffic, preserving order.
// This is a PURE function.
func FilterAvailable(models []Descriptor) []Descriptor {
	var out []Descriptor
	for _, m := range models {
		if m.Available() {
			out = append(out, m)
		}
	}
	return out
}
