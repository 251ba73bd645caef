// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/modelgate/ports"
)

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	FallbacksTotal   *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Admission and budget metrics
	AdmissionDenied *prometheus.CounterVec
	BudgetDenied    *prometheus.CounterVec

	// Spend metrics
	SpendUSD *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return newCollector(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newCollector(promauto.With(reg))
}

func newCollector(factory promauto.Factory) *Collector {
	return &Collector{
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "dispatch_total",
				Help:      "Total dispatch attempts by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modelgate",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch attempt duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model", "outcome"},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "fallbacks_total",
				Help:      "Total failovers from one model to another",
			},
			[]string{"from", "to"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "admission_denied_total",
				Help:      "Requests denied by admission control, by rule",
			},
			[]string{"rule"},
		),
		BudgetDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "budget_denied_total",
				Help:      "Requests denied by budget enforcement, by period",
			},
			[]string{"period"},
		),
		SpendUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "spend_usd_total",
				Help:      "Accumulated model spend in dollars by user",
			},
			[]string{"user_id"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "modelgate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RecordDispatch counts one dispatch attempt.
func (c *Collector) RecordDispatch(modelID, outcome string, latency time.Duration) {
	c.DispatchTotal.WithLabelValues(modelID, outcome).Inc()
	c.DispatchDuration.WithLabelValues(modelID, outcome).Observe(latency.Seconds())
}

// RecordCacheLookup counts one cache lookup.
func (c *Collector) RecordCacheLookup(strategy string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(strategy, result).Inc()
}

// RecordAdmissionDenied counts one admission denial.
func (c *Collector) RecordAdmissionDenied(rule string) {
	c.AdmissionDenied.WithLabelValues(rule).Inc()
}

// RecordBudgetDenied counts one budget denial.
func (c *Collector) RecordBudgetDenied(period string) {
	c.BudgetDenied.WithLabelValues(period).Inc()
}

// RecordSpend accumulates dollar spend for a user.
func (c *Collector) RecordSpend(userID string, costUSD float64) {
	if costUSD > 0 {
		c.SpendUSD.WithLabelValues(userID).Add(costUSD)
	}
}

// RecordFallback counts one failover between models.
func (c *Collector) RecordFallback(fromModel, toModel string) {
	c.FallbacksTotal.WithLabelValues(fromModel, toModel).Inc()
}

// Ensure interface compliance.
var _ ports.MetricsRecorder = (*Collector)(nil)
