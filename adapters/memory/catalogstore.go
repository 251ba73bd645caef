package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/ports"
)

// ErrModelNotFound is returned when a catalog lookup misses.
var ErrModelNotFound = errors.New("model not found")

// CatalogStore is an in-memory implementation of ports.CatalogStore.
type CatalogStore struct {
	mu     sync.RWMutex
	models map[string]model.Descriptor
}

// NewCatalogStore creates a new in-memory catalog store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		models: make(map[string]model.Descriptor),
	}
}

// List returns all known models ordered by ID.
func (s *CatalogStore) List(ctx context.Context) ([]model.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Descriptor, 0, len(s.models))
	for _, d := range s.models {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get retrieves one model by ID.
func (s *CatalogStore) Get(ctx context.Context, id string) (model.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.models[id]
	if !ok {
		return model.Descriptor{}, ErrModelNotFound
	}
	return d, nil
}

// Upsert stores or replaces a model descriptor.
func (s *CatalogStore) Upsert(ctx context.Context, d model.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[d.ID] = d
	return nil
}

// SetStatus updates only the availability status of a model.
func (s *CatalogStore) SetStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.models[id]
	if !ok {
		return ErrModelNotFound
	}
	d.Status = status
	s.models[id] = d
	return nil
}

// Clear removes all models (for testing).
func (s *CatalogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[string]model.Descriptor)
}

// Ensure interface compliance.
var _ ports.CatalogStore = (*CatalogStore)(nil)
