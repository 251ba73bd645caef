// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// LedgerStore persists dispatch usage records.
type LedgerStore interface {
	// RecordBatch stores multiple usage records.
	RecordBatch(ctx context.Context, records []usage.Record) error

	// RecordsSince returns all records from a point in time, across
	// every user. Budget enforcement sums gateway-wide spend from this.
	RecordsSince(ctx context.Context, since time.Time) ([]usage.Record, error)

	// UserRecordsSince returns a user's records from a point in time.
	UserRecordsSince(ctx context.Context, userID string, since time.Time) ([]usage.Record, error)

	// ModelRecordsSince returns a model's records from a point in time.
	ModelRecordsSince(ctx context.Context, modelID string, since time.Time) ([]usage.Record, error)

	// UserStats returns aggregated usage for a user over a period.
	UserStats(ctx context.Context, userID string, start, end time.Time) (usage.Stats, error)
}

// CacheStore persists cached responses.
type CacheStore interface {
	// Get retrieves an entry by exact key. Returns false when missing.
	Get(ctx context.Context, key string) (cache.Entry, bool, error)

	// Put stores an entry under its key.
	Put(ctx context.Context, e cache.Entry) error

	// Delete removes an entry.
	Delete(ctx context.Context, key string) error

	// Candidates returns unexpired entries for a user and language,
	// for fuzzy matching.
	Candidates(ctx context.Context, userID string, lang conversation.Language, limit int) ([]cache.Entry, error)

	// PurgeExpired removes entries past their TTL. Returns the count removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// WindowStore persists admission windows per (rule, subject).
type WindowStore interface {
	// Get retrieves the window for a rule and subject.
	Get(ctx context.Context, rule, subject string) (admission.Window, error)

	// Set replaces the window for a rule and subject.
	Set(ctx context.Context, rule, subject string, w admission.Window) error
}

// CatalogStore persists model descriptors.
type CatalogStore interface {
	// List returns all known models.
	List(ctx context.Context) ([]model.Descriptor, error)

	// Get retrieves one model by ID.
	Get(ctx context.Context, id string) (model.Descriptor, error)

	// Upsert stores or replaces a model descriptor.
	Upsert(ctx context.Context, d model.Descriptor) error

	// SetStatus updates only the availability status of a model.
	SetStatus(ctx context.Context, id string, status model.Status, at time.Time) error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// CompletionRequest is what a backend needs to produce a completion.
type CompletionRequest struct {
	ModelID     string
	Messages    []conversation.Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is what a backend returns.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient talks to the upstream model provider.
// Errors are mapped to the dispatch error taxonomy by the adapter.
type CompletionClient interface {
	// Complete sends a completion request to one model.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ListModels fetches the provider's current model inventory.
	ListModels(ctx context.Context) ([]model.Descriptor, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Application Ports
// -----------------------------------------------------------------------------

// LedgerRecorder accepts usage records asynchronously.
// Implementations must never block the dispatch path.
type LedgerRecorder interface {
	// Record enqueues a usage record for persistence.
	Record(r usage.Record)

	// Close flushes pending records and stops the recorder.
	Close() error
}

// MetricsRecorder receives gateway metrics.
type MetricsRecorder interface {
	RecordDispatch(modelID, outcome string, latency time.Duration)
	RecordCacheLookup(strategy string, hit bool)
	RecordAdmissionDenied(rule string)
	RecordBudgetDenied(period string)
	RecordSpend(userID string, costUSD float64)
	RecordFallback(fromModel, toModel string)
}
