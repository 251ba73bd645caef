// Package http exposes the gateway's REST surface.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/app"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/ports"
)

// Handler serves the dispatch API.
type Handler struct {
	dispatch  *app.DispatchService
	catalog   *app.CatalogService
	governor  *app.GovernorService
	admission *app.AdmissionService
	cache     *app.CacheService
	upstream  ports.CompletionClient
	logger    zerolog.Logger
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Dispatch  *app.DispatchService
	Catalog   *app.CatalogService
	Governor  *app.GovernorService
	Admission *app.AdmissionService
	Cache     *app.CacheService
	Upstream  ports.CompletionClient
}

// NewHandler creates a new API handler.
func NewHandler(deps HandlerDeps, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatch:  deps.Dispatch,
		catalog:   deps.Catalog,
		governor:  deps.Governor,
		admission: deps.Admission,
		cache:     deps.Cache,
		upstream:  deps.Upstream,
		logger:    logger,
	}
}

// RouterConfig tunes the HTTP router.
type RouterConfig struct {
	// RequestTimeout bounds a whole request, including admission waits
	// and the full fallback chain. Zero means 120s.
	RequestTimeout time.Duration

	// Metrics overrides the /metrics handler (used by tests to scope
	// the registry). Nil means the default prometheus handler.
	Metrics http.Handler
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(h *Handler, cfg RouterConfig, logger zerolog.Logger) *chi.Mux {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/dispatch", h.Dispatch)
		r.Get("/models", h.Models)
		r.Get("/status", h.Status)
	})

	return r
}

// Dispatch handles POST /v1/dispatch.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{
			Code:    "invalid_request",
			Message: "malformed JSON body",
		})
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, apiError{
			Code:    "invalid_request",
			Message: "user_id is required",
		})
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, apiError{
			Code:    "invalid_request",
			Message: "messages must not be empty",
		})
		return
	}

	resp, err := h.dispatch.Handle(r.Context(), req)
	if err != nil {
		h.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	models, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("catalog list failed")
		writeError(w, http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "failed to list models",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

type modelsSummary struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Degraded    int `json:"degraded"`
	Unavailable int `json:"unavailable"`
}

type statusResponse struct {
	Budget    app.BudgetStatus    `json:"budget"`
	RateLimit app.AdmissionInfo   `json:"rate_limit"`
	Cache     app.CacheInfo       `json:"cache"`
	Usage     app.UsageReport     `json:"usage"`
	UserUsage *app.UsageBreakdown `json:"user_usage,omitempty"`
	Models    modelsSummary       `json:"models"`
}

// Status handles GET /v1/status. The optional user_id query parameter
// adds that user's budget standing and month-to-date usage.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	budgetStatus, err := h.governor.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("budget status failed")
		writeError(w, http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "failed to load budget status",
		})
		return
	}

	usageReport, err := h.governor.UsageReport(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("usage report failed")
		writeError(w, http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "failed to load usage report",
		})
		return
	}

	var userUsage *app.UsageBreakdown
	if userID != "" {
		breakdown, err := h.governor.UserUsage(r.Context(), userID)
		if err != nil {
			h.logger.Error().Err(err).Msg("user usage failed")
			writeError(w, http.StatusInternalServerError, apiError{
				Code:    "internal_error",
				Message: "failed to load user usage",
			})
			return
		}
		userUsage = &breakdown
	}

	models, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("catalog list failed")
		writeError(w, http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "failed to list models",
		})
		return
	}

	summary := modelsSummary{Total: len(models)}
	for _, m := range models {
		switch m.Status {
		case model.StatusDegraded:
			summary.Degraded++
		case model.StatusUnavailable:
			summary.Unavailable++
		default:
			summary.Available++
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Budget:    budgetStatus,
		RateLimit: h.admission.Info(),
		Cache:     h.cache.Info(),
		Usage:     usageReport,
		UserUsage: userUsage,
		Models:    summary,
	})
}

// Liveness handles GET /healthz.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /readyz. It verifies the upstream provider is
// reachable before declaring the gateway ready for traffic.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.upstream.HealthCheck(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "upstream unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// apiError is the machine-readable error body.
type apiError struct {
	Code              string  `json:"code"`
	Message           string  `json:"message"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	Period            string  `json:"period,omitempty"`
	CurrentUSD        float64 `json:"current_usd,omitempty"`
	LimitUSD          float64 `json:"limit_usd,omitempty"`
}

// writeDispatchError maps the dispatch error taxonomy onto HTTP statuses.
func (h *Handler) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		budgetErr    *dispatch.ErrBudgetExceeded
		rateErr      *dispatch.ErrRateLimitExceeded
		upstreamRate *dispatch.ErrUpstreamRateLimited
		notAvailable *dispatch.ErrModelNotAvailable
		permanent    *dispatch.ErrPermanent
		transient    *dispatch.ErrTransient
		exhausted    *dispatch.ErrChainExhausted
	)

	switch {
	case errors.As(err, &budgetErr):
		writeError(w, http.StatusPaymentRequired, apiError{
			Code:       "budget_exceeded",
			Message:    budgetErr.Error(),
			Period:     string(budgetErr.Period),
			CurrentUSD: budgetErr.CurrentUSD,
			LimitUSD:   budgetErr.LimitUSD,
		})

	case errors.As(err, &rateErr):
		secs := retryAfterSeconds(rateErr.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, apiError{
			Code:              "rate_limited",
			Message:           rateErr.Error(),
			RetryAfterSeconds: secs,
		})

	case errors.As(err, &upstreamRate):
		secs := retryAfterSeconds(upstreamRate.RetryAfter)
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusTooManyRequests, apiError{
			Code:              "upstream_rate_limited",
			Message:           upstreamRate.Error(),
			RetryAfterSeconds: secs,
		})

	case errors.As(err, &notAvailable):
		writeError(w, http.StatusServiceUnavailable, apiError{
			Code:    "model_not_available",
			Message: notAvailable.Error(),
		})

	case errors.As(err, &permanent):
		status := http.StatusBadGateway
		if permanent.StatusCode >= 400 && permanent.StatusCode < 500 {
			status = permanent.StatusCode
		}
		msg := permanent.Error()
		if permanent.Detail != "" {
			msg = msg + ": " + permanent.Detail
		}
		writeError(w, status, apiError{Code: "upstream_rejected", Message: msg})

	case errors.As(err, &exhausted):
		writeError(w, http.StatusBadGateway, apiError{
			Code:    "chain_exhausted",
			Message: fmt.Sprintf("all %d models in the fallback chain failed", len(exhausted.Attempts)),
		})

	case errors.As(err, &transient):
		writeError(w, http.StatusBadGateway, apiError{
			Code:    "upstream_error",
			Message: transient.Error(),
		})

	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, apiError{
			Code:    "timeout",
			Message: "request timed out",
		})

	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "internal server error",
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	// Round up so clients never retry early.
	return int((d + time.Second - 1) / time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, map[string]apiError{"error": e})
}

// NewLoggingMiddleware logs each request at debug level.
// Health and metrics probes are skipped to keep the log readable.
func NewLoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
