package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/domain/selection"
)

// SelectorService ranks catalog models for a dispatch request.
// The scoring itself is pure; this service only supplies the candidates.
type SelectorService struct {
	catalog *CatalogService
	logger  zerolog.Logger
}

// NewSelectorService creates a new selector service.
func NewSelectorService(catalog *CatalogService, logger zerolog.Logger) *SelectorService {
	return &SelectorService{catalog: catalog, logger: logger}
}

// Select picks the primary model and its fallback chain for the criteria.
func (s *SelectorService) Select(ctx context.Context, c selection.Criteria, maxFallbacks int) (selection.Result, error) {
	candidates, err := s.catalog.List(ctx)
	if err != nil {
		return selection.Result{}, err
	}

	result, ok := selection.Select(candidates, c, maxFallbacks)
	if !ok {
		return selection.Result{}, &dispatch.ErrModelNotAvailable{
			Language:   c.Language,
			Capability: string(c.Capability),
		}
	}

	s.logger.Debug().
		Str("primary", result.Primary.ID).
		Int("fallbacks", len(result.Fallbacks)).
		Str("language", string(c.Language)).
		Msg("model selected")

	return result, nil
}

// PeekPricing returns the input/output pricing of the best available
// candidate, used for pre-flight cost estimates before selection runs.
func (s *SelectorService) PeekPricing(ctx context.Context) (costPer1KIn, costPer1KOut float64) {
	candidates, err := s.catalog.List(ctx)
	if err != nil {
		return 0, 0
	}

	var best *model.Descriptor
	for i := range candidates {
		m := candidates[i]
		if !m.Available() {
			continue
		}
		if best == nil || m.Priority < best.Priority {
			best = &candidates[i]
		}
	}
	if best == nil {
		return 0, 0
	}
	return best.CostPer1KIn, best.CostPer1KOut
}
