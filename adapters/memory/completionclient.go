package memory

import (
	"context"
	"sync"

	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/ports"
)

// CompletionClient is an in-memory implementation of ports.CompletionClient
// for tests and offline development. Responses and errors are scripted per
// model ID.
type CompletionClient struct {
	mu        sync.Mutex
	responses map[string]ports.CompletionResponse
	failures  map[string]error
	models    []model.Descriptor
	calls     []ports.CompletionRequest
	healthErr error
}

// NewCompletionClient creates a new scripted completion client.
func NewCompletionClient() *CompletionClient {
	return &CompletionClient{
		responses: map[string]ports.CompletionResponse{},
		failures:  map[string]error{},
	}
}

// SetResponse scripts the response for one model.
func (c *CompletionClient) SetResponse(modelID string, resp ports.CompletionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[modelID] = resp
	delete(c.failures, modelID)
}

// SetError scripts a failure for one model.
func (c *CompletionClient) SetError(modelID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[modelID] = err
}

// SetModels scripts the ListModels inventory.
func (c *CompletionClient) SetModels(models []model.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append([]model.Descriptor(nil), models...)
}

// SetHealthError scripts a HealthCheck failure.
func (c *CompletionClient) SetHealthError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthErr = err
}

// Complete returns the scripted response or failure for the model.
func (c *CompletionClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)

	if err, ok := c.failures[req.ModelID]; ok {
		return ports.CompletionResponse{}, err
	}
	if resp, ok := c.responses[req.ModelID]; ok {
		return resp, nil
	}
	return ports.CompletionResponse{Content: "ok", PromptTokens: 10, CompletionTokens: 5}, nil
}

// ListModels returns the scripted inventory.
func (c *CompletionClient) ListModels(ctx context.Context) ([]model.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Descriptor(nil), c.models...), nil
}

// HealthCheck returns the scripted health state.
func (c *CompletionClient) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthErr
}

// Calls returns all completion requests seen so far (for testing).
func (c *CompletionClient) Calls() []ports.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.CompletionRequest(nil), c.calls...)
}

// CallCount returns how many completion requests were made (for testing).
func (c *CompletionClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Ensure interface compliance.
var _ ports.CompletionClient = (*CompletionClient)(nil)
