package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/budget"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/domain/language"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/domain/prompt"
	"github.com/artpar/modelgate/domain/selection"
	"github.com/artpar/modelgate/domain/usage"
	"github.com/artpar/modelgate/ports"
)

// DispatchService routes completion requests to backend models.
type DispatchService struct {
	catalog   *CatalogService
	selector  *SelectorService
	governor  *GovernorService
	admission *AdmissionService
	cache     *CacheService
	client    ports.CompletionClient
	ledger    ports.LedgerRecorder
	metrics   ports.MetricsRecorder
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	dynamicCfg atomic.Pointer[DispatchServiceConfig]
}

// DispatchServiceConfig contains hot-reloadable dispatch configuration.
type DispatchServiceConfig struct {
	MaxFallbacks   int
	AttemptTimeout time.Duration
	Thresholds     language.Thresholds
}

// DispatchDeps contains dependencies for DispatchService.
type DispatchDeps struct {
	Catalog   *CatalogService
	Selector  *SelectorService
	Governor  *GovernorService
	Admission *AdmissionService
	Cache     *CacheService
	Client    ports.CompletionClient
	Ledger    ports.LedgerRecorder
	Metrics   ports.MetricsRecorder
	Clock     ports.Clock
	IDGen     ports.IDGenerator
}

// NewDispatchService creates a new dispatch service.
func NewDispatchService(deps DispatchDeps, cfg DispatchServiceConfig, logger zerolog.Logger) *DispatchService {
	s := &DispatchService{
		catalog:   deps.Catalog,
		selector:  deps.Selector,
		governor:  deps.Governor,
		admission: deps.Admission,
		cache:     deps.Cache,
		client:    deps.Client,
		ledger:    deps.Ledger,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    logger,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the dispatch tuning.
// This is thread-safe and can be called while handling requests.
func (s *DispatchService) UpdateConfig(cfg DispatchServiceConfig) {
	if cfg.MaxFallbacks == 0 {
		cfg.MaxFallbacks = 3
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	s.dynamicCfg.Store(&cfg)
}

// Handle processes one dispatch request end to end.
// This method orchestrates pure domain functions with I/O operations.
func (s *DispatchService) Handle(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	cfg := s.dynamicCfg.Load()

	// 1. Detect language (PURE) unless the caller pinned one
	lang := req.Language
	confidence := 1.0
	if lang == "" || lang == conversation.LanguageAuto {
		detected := language.Detect(req.LastUserMessage(), cfg.Thresholds)
		lang = detected.Language
		confidence = detected.Confidence
	}

	// 2. Apply the named system-prompt template (PURE). This happens
	// before the cache lookup so the template participates in the key.
	if req.TemplateID != "" {
		req.Messages = prompt.Apply(req.TemplateID, req.Messages)
	}

	// 3. Cache lookup (I/O) - a hit returns immediately, no ledger record
	if !req.SkipCache {
		if entry, ok := s.cache.Lookup(ctx, req.UserID, req.Messages, lang); ok {
			s.logger.Debug().
				Str("user_id", req.UserID).
				Str("model", entry.ModelID).
				Msg("dispatch served from cache")
			return dispatch.Response{
				Content:          entry.Response,
				ModelID:          entry.ModelID,
				Provider:         providerOf(entry.ModelID),
				Language:         lang,
				Confidence:       confidence,
				PromptTokens:     entry.PromptTokens,
				CompletionTokens: entry.CompletionTokens,
				Cached:           true,
			}, nil
		}
	}

	// 4. Pre-flight cost estimate (PURE over a catalog snapshot)
	promptTokens := conversation.EstimateMessageTokens(req.Messages)
	costIn, costOut := s.selector.PeekPricing(ctx)
	estimate := budget.EstimateCallCost(promptTokens, costIn, costOut)

	// 5. Budget check (I/O for spend, PURE decision)
	if err := s.governor.Check(ctx, req.UserID, estimate); err != nil {
		return dispatch.Response{}, err
	}

	// 6. Admission check, possibly parking the request (I/O + bounded wait)
	maxWait := time.Duration(req.MaxWaitSeconds) * time.Second
	if err := s.admission.CheckAndWaitWithin(ctx, req.UserID, int64(promptTokens), maxWait); err != nil {
		return dispatch.Response{}, err
	}

	// 7. Select the primary model and fallback chain (PURE over snapshot)
	criteria := selection.Criteria{
		Language:       lang,
		HistoryLength:  len(req.Messages),
		PreferredModel: req.PreferredModel,
		PreferFree:     req.PreferFree,
		MaxCostPer1K:   req.MaxCostPer1K,
	}
	if req.RequireFunctions {
		criteria.Capability = model.CapabilityFunctionCalling
	}
	result, err := s.selector.Select(ctx, criteria, cfg.MaxFallbacks)
	if err != nil {
		return dispatch.Response{}, err
	}

	// 8. Ordered attempt loop over the chain (I/O)
	return s.attemptChain(ctx, cfg, req, result.Chain(), lang, confidence)
}

// HandleContext dispatches on behalf of a conversation context and applies
// the reply to it: the assistant message is appended and the token counter
// advanced. The context is otherwise caller-owned.
func (s *DispatchService) HandleContext(ctx context.Context, cc *conversation.Context, req dispatch.Request) (dispatch.Response, error) {
	if req.UserID == "" {
		req.UserID = cc.UserID
	}
	if req.SessionID == "" {
		req.SessionID = cc.SessionID
	}
	if len(req.Messages) == 0 {
		req.Messages = cc.History
	}
	if req.Language == "" {
		req.Language = cc.Language
	}

	resp, err := s.Handle(ctx, req)
	if err != nil {
		return resp, err
	}

	cc.Language = resp.Language
	cc.AddMessage(conversation.Message{Role: conversation.RoleAssistant, Content: resp.Content})
	cc.TotalTokensUsed += resp.PromptTokens + resp.CompletionTokens
	return resp, nil
}

func (s *DispatchService) attemptChain(ctx context.Context, cfg *DispatchServiceConfig, req dispatch.Request, chain []model.Descriptor, lang conversation.Language, confidence float64) (dispatch.Response, error) {
	var attempts []dispatch.Attempt

	for depth, m := range chain {
		if err := ctx.Err(); err != nil {
			return dispatch.Response{}, err
		}
		if depth > 0 {
			s.metrics.RecordFallback(chain[depth-1].ID, m.ID)
			s.logger.Info().
				Str("from", chain[depth-1].ID).
				Str("to", m.ID).
				Int("depth", depth).
				Msg("failing over to next model")
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		start := s.clock.Now()
		resp, err := s.client.Complete(attemptCtx, ports.CompletionRequest{
			ModelID:     m.ID,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		cancel()
		latency := s.clock.Now().Sub(start)

		if err != nil {
			outcome := outcomeFor(err)
			s.recordAttempt(req, m, lang, outcome, 0, 0, 0, latency, depth)
			s.metrics.RecordDispatch(m.ID, string(outcome), latency)
			attempts = append(attempts, dispatch.Attempt{ModelID: m.ID, Err: err, Latency: latency})

			// 5xx and timeouts take the model out of rotation; a 429
			// only skips it for this request.
			var transient *dispatch.ErrTransient
			if errors.As(err, &transient) {
				s.catalog.MarkUnavailable(ctx, m.ID)
			}

			if !dispatch.Retryable(err) {
				return dispatch.Response{}, err
			}
			continue
		}

		cost := m.EstimateCost(resp.PromptTokens, resp.CompletionTokens)
		s.recordAttempt(req, m, lang, usage.OutcomeSuccess, resp.PromptTokens, resp.CompletionTokens, cost, latency, depth)
		s.metrics.RecordDispatch(m.ID, string(usage.OutcomeSuccess), latency)
		s.metrics.RecordSpend(req.UserID, cost)

		out := dispatch.Response{
			Content:          resp.Content,
			ModelID:          m.ID,
			Provider:         m.Provider,
			Language:         lang,
			Confidence:       confidence,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			CostUSD:          cost,
			FallbackDepth:    depth,
			Latency:          latency,
		}

		if !req.SkipCache {
			tags := []string{"model:" + m.ID, "lang:" + string(lang)}
			if err := s.cache.Store(ctx, req, out, tags); err != nil {
				s.logger.Error().Err(err).Msg("cache store failed")
			}
		}
		return out, nil
	}

	return dispatch.Response{}, &dispatch.ErrChainExhausted{Attempts: attempts}
}

func (s *DispatchService) recordAttempt(req dispatch.Request, m model.Descriptor, lang conversation.Language, outcome usage.Outcome, promptTokens, completionTokens int, cost float64, latency time.Duration, depth int) {
	s.ledger.Record(usage.Record{
		ID:               s.idGen.New(),
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		ModelID:          m.ID,
		Provider:         m.Provider,
		Language:         string(lang),
		Outcome:          outcome,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          cost,
		LatencyMs:        latency.Milliseconds(),
		FallbackDepth:    depth,
		Timestamp:        s.clock.Now(),
	})
}

func outcomeFor(err error) usage.Outcome {
	var (
		rateLimited *dispatch.ErrUpstreamRateLimited
		transient   *dispatch.ErrTransient
		permanent   *dispatch.ErrPermanent
	)
	switch {
	case errors.As(err, &rateLimited):
		return usage.OutcomeRateLimit
	case errors.As(err, &transient):
		if errors.Is(transient.Cause, context.DeadlineExceeded) {
			return usage.OutcomeTimeout
		}
		return usage.OutcomeTransient
	case errors.As(err, &permanent):
		return usage.OutcomePermanent
	default:
		return usage.OutcomeTransient
	}
}
