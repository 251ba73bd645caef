package memory

import (
	"context"
	"sync"

	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/ports"
)

// WindowStore is an in-memory implementation of ports.WindowStore.
type WindowStore struct {
	mu      sync.RWMutex
	windows map[string]admission.Window
}

// NewWindowStore creates a new in-memory admission window store.
func NewWindowStore() *WindowStore {
	return &WindowStore{
		windows: make(map[string]admission.Window),
	}
}

// Get retrieves the window for a rule and subject.
func (s *WindowStore) Get(ctx context.Context, rule, subject string) (admission.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows[rule+"\x00"+subject], nil
}

// Set replaces the window for a rule and subject.
func (s *WindowStore) Set(ctx context.Context, rule, subject string, w admission.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[rule+"\x00"+subject] = w
	return nil
}

// Clear removes all windows (for testing).
func (s *WindowStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]admission.Window)
}

// Ensure interface compliance.
var _ ports.WindowStore = (*WindowStore)(nil)
