// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/domain/usage"
	"github.com/artpar/modelgate/ports"
)

// ModelOverlay carries routing metadata layered on top of the provider's
// model listing. Overlays come from configuration and are hot-reloadable.
type ModelOverlay struct {
	ID            string
	Priority      int
	Languages     []string
	Capabilities  []string
	CostPer1KIn   float64
	CostPer1KOut  float64
	ContextWindow int
}

// CatalogService maintains the set of routable backend models.
// Models are never deleted, only marked unavailable.
type CatalogService struct {
	store    ports.CatalogStore
	provider ports.CompletionClient
	ledger   ports.LedgerStore
	clock    ports.Clock
	logger   zerolog.Logger

	// Models marked unavailable get retried after this long.
	reviveAfter time.Duration

	mu       sync.Mutex
	markedAt map[string]time.Time

	overlays atomic.Pointer[[]ModelOverlay]
}

// CatalogDeps contains dependencies for CatalogService.
type CatalogDeps struct {
	Store    ports.CatalogStore
	Provider ports.CompletionClient
	Ledger   ports.LedgerStore
	Clock    ports.Clock
}

// CatalogConfig contains configuration for CatalogService.
type CatalogConfig struct {
	Overlays    []ModelOverlay
	ReviveAfter time.Duration // 0 = default 30 minutes
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(deps CatalogDeps, cfg CatalogConfig, logger zerolog.Logger) *CatalogService {
	if cfg.ReviveAfter == 0 {
		cfg.ReviveAfter = 30 * time.Minute
	}

	s := &CatalogService{
		store:       deps.Store,
		provider:    deps.Provider,
		ledger:      deps.Ledger,
		clock:       deps.Clock,
		logger:      logger,
		reviveAfter: cfg.ReviveAfter,
		markedAt:    map[string]time.Time{},
	}
	s.UpdateOverlays(cfg.Overlays)
	return s
}

// UpdateOverlays replaces the config overlays.
// This is thread-safe and can be called while handling requests.
func (s *CatalogService) UpdateOverlays(overlays []ModelOverlay) {
	copied := make([]ModelOverlay, len(overlays))
	copy(copied, overlays)
	s.overlays.Store(&copied)
}

// Seed upserts descriptors for every configured overlay so the gateway can
// route before the first provider refresh completes.
func (s *CatalogService) Seed(ctx context.Context) error {
	for _, o := range *s.overlays.Load() {
		d := model.Descriptor{
			ID:          o.ID,
			Provider:    providerOf(o.ID),
			DisplayName: o.ID,
			Status:      model.StatusAvailable,
			SuccessRate: 1,
		}
		applyOverlay(&d, o)
		if err := s.store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("seed model %s: %w", o.ID, err)
		}
	}
	return nil
}

// Refresh pulls the provider's model listing and merges it with the
// overlays. Known models keep their status and health stats.
func (s *CatalogService) Refresh(ctx context.Context) error {
	listed, err := s.provider.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	overlays := *s.overlays.Load()
	byID := map[string]ModelOverlay{}
	for _, o := range overlays {
		byID[o.ID] = o
	}

	updated := 0
	for _, d := range listed {
		o, configured := byID[d.ID]
		if len(overlays) > 0 && !configured {
			// With an explicit model list in config, unlisted provider
			// models are not routable.
			continue
		}

		if existing, err := s.store.Get(ctx, d.ID); err == nil {
			d.Status = existing.Status
			d.SuccessRate = existing.SuccessRate
			d.AvgLatency = existing.AvgLatency
		} else {
			d.Status = model.StatusAvailable
			d.SuccessRate = 1
		}
		if configured {
			applyOverlay(&d, o)
		}
		if len(d.Capabilities) == 0 {
			d.Capabilities = []model.Capability{model.CapabilityChat}
		}
		if err := s.store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("upsert model %s: %w", d.ID, err)
		}
		updated++
	}

	s.logger.Info().Int("models", updated).Msg("catalog refreshed")
	return nil
}

// List returns all known models.
func (s *CatalogService) List(ctx context.Context) ([]model.Descriptor, error) {
	return s.store.List(ctx)
}

// Get returns one model by ID.
func (s *CatalogService) Get(ctx context.Context, id string) (model.Descriptor, error) {
	return s.store.Get(ctx, id)
}

// MarkUnavailable takes a model out of rotation after a hard failure.
func (s *CatalogService) MarkUnavailable(ctx context.Context, id string) {
	now := s.clock.Now()
	if err := s.store.SetStatus(ctx, id, model.StatusUnavailable, now); err != nil {
		s.logger.Error().Err(err).Str("model", id).Msg("mark unavailable failed")
		return
	}

	s.mu.Lock()
	s.markedAt[id] = now
	s.mu.Unlock()

	s.logger.Warn().Str("model", id).Msg("model marked unavailable")
}

// ReviveStale puts models back into rotation once they have been out long
// enough. They come back degraded so the selector deprioritizes them until
// health stats recover.
func (s *CatalogService) ReviveStale(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []string
	for id, at := range s.markedAt {
		if now.Sub(at) >= s.reviveAfter {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(s.markedAt, id)
	}
	s.mu.Unlock()

	for _, id := range due {
		if err := s.store.SetStatus(ctx, id, model.StatusDegraded, now); err != nil {
			s.logger.Error().Err(err).Str("model", id).Msg("revive failed")
			continue
		}
		s.logger.Info().Str("model", id).Msg("model revived for probing")
	}
}

// UpdateHealth folds recent ledger records into per-model success rate and
// latency, which feed the selector's scoring.
func (s *CatalogService) UpdateHealth(ctx context.Context, lookback time.Duration) error {
	now := s.clock.Now()
	models, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}

	for _, m := range models {
		records, err := s.ledger.ModelRecordsSince(ctx, m.ID, now.Add(-lookback))
		if err != nil {
			return fmt.Errorf("model records %s: %w", m.ID, err)
		}
		stats := usage.Aggregate(m.ID, records, now.Add(-lookback), now)
		if stats.Requests == 0 {
			continue
		}

		m.SuccessRate = stats.SuccessRate
		m.AvgLatency = time.Duration(stats.AvgLatencyMs) * time.Millisecond
		if err := s.store.Upsert(ctx, m); err != nil {
			return fmt.Errorf("update health %s: %w", m.ID, err)
		}

		// A degraded model that is succeeding again earns full status back.
		if m.Status == model.StatusDegraded && stats.SuccessRate > 0.9 {
			if err := s.store.SetStatus(ctx, m.ID, model.StatusAvailable, now); err != nil {
				return fmt.Errorf("restore status %s: %w", m.ID, err)
			}
		}
	}
	return nil
}

func applyOverlay(d *model.Descriptor, o ModelOverlay) {
	if o.Priority != 0 {
		d.Priority = o.Priority
	}
	if len(o.Languages) > 0 {
		d.Languages = d.Languages[:0]
		for _, l := range o.Languages {
			d.Languages = append(d.Languages, conversation.Language(l))
		}
	}
	if len(o.Capabilities) > 0 {
		d.Capabilities = d.Capabilities[:0]
		for _, c := range o.Capabilities {
			d.Capabilities = append(d.Capabilities, model.Capability(c))
		}
	}
	if o.CostPer1KIn != 0 {
		d.CostPer1KIn = o.CostPer1KIn
	}
	if o.CostPer1KOut != 0 {
		d.CostPer1KOut = o.CostPer1KOut
	}
	if o.ContextWindow != 0 {
		d.ContextWindow = o.ContextWindow
	}
}

func providerOf(modelID string) string {
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '/' {
			return modelID[:i]
		}
	}
	return modelID
}
