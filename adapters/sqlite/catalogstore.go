package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/ports"
)

// ErrModelNotFound is returned when a catalog lookup misses.
var ErrModelNotFound = errors.New("model not found")

// CatalogStore implements ports.CatalogStore using SQLite.
// Languages and capabilities are stored as comma-separated lists.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new SQLite catalog store.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

const modelColumns = `id, provider, display_name, priority, cost_per_1k_in,
	cost_per_1k_out, context_window, max_output, languages, capabilities,
	status, success_rate, avg_latency_ms`

// List returns all known models ordered by ID.
func (s *CatalogStore) List(ctx context.Context) ([]model.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+modelColumns+" FROM models ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Descriptor
	for rows.Next() {
		d, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get retrieves one model by ID.
func (s *CatalogStore) Get(ctx context.Context, id string) (model.Descriptor, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM models WHERE id = ?", id)
	d, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Descriptor{}, ErrModelNotFound
	}
	return d, err
}

// Upsert stores or replaces a model descriptor.
func (s *CatalogStore) Upsert(ctx context.Context, d model.Descriptor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (
			id, provider, display_name, priority, cost_per_1k_in, cost_per_1k_out,
			context_window, max_output, languages, capabilities, status,
			success_rate, avg_latency_ms, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			display_name = excluded.display_name,
			priority = excluded.priority,
			cost_per_1k_in = excluded.cost_per_1k_in,
			cost_per_1k_out = excluded.cost_per_1k_out,
			context_window = excluded.context_window,
			max_output = excluded.max_output,
			languages = excluded.languages,
			capabilities = excluded.capabilities,
			status = excluded.status,
			success_rate = excluded.success_rate,
			avg_latency_ms = excluded.avg_latency_ms,
			updated_at = excluded.updated_at
	`, d.ID, d.Provider, d.DisplayName, d.Priority, d.CostPer1KIn, d.CostPer1KOut,
		d.ContextWindow, d.MaxOutput, joinLanguages(d.Languages),
		joinCapabilities(d.Capabilities), string(d.Status), d.SuccessRate,
		d.AvgLatency.Milliseconds())
	return err
}

// SetStatus updates only the availability status of a model.
func (s *CatalogStore) SetStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE models SET status = ?, updated_at = ? WHERE id = ?",
		string(status), at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrModelNotFound
	}
	return nil
}

func scanModel(row entryScanner) (model.Descriptor, error) {
	var d model.Descriptor
	var languages, capabilities, status string
	var latencyMs int64
	err := row.Scan(
		&d.ID, &d.Provider, &d.DisplayName, &d.Priority, &d.CostPer1KIn,
		&d.CostPer1KOut, &d.ContextWindow, &d.MaxOutput, &languages,
		&capabilities, &status, &d.SuccessRate, &latencyMs,
	)
	if err != nil {
		return model.Descriptor{}, err
	}
	d.Status = model.Status(status)
	d.AvgLatency = time.Duration(latencyMs) * time.Millisecond
	for _, l := range splitList(languages) {
		d.Languages = append(d.Languages, conversation.Language(l))
	}
	for _, c := range splitList(capabilities) {
		d.Capabilities = append(d.Capabilities, model.Capability(c))
	}
	return d, nil
}

func joinLanguages(langs []conversation.Language) string {
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

func joinCapabilities(caps []model.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Ensure interface compliance.
var _ ports.CatalogStore = (*CatalogStore)(nil)
