package sqlite

import (
	"context"
	"time"

	"github.com/artpar/modelgate/domain/usage"
	"github.com/artpar/modelgate/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// RecordBatch stores multiple usage records.
func (s *LedgerStore) RecordBatch(ctx context.Context, records []usage.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			id, user_id, session_id, model_id, provider, language, outcome,
			prompt_tokens, completion_tokens, cost_usd, latency_ms, cached,
			fallback_depth, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		// Store timestamps in UTC for consistent querying
		_, err := stmt.ExecContext(ctx,
			r.ID, r.UserID, r.SessionID, r.ModelID, r.Provider, r.Language,
			string(r.Outcome), r.PromptTokens, r.CompletionTokens, r.CostUSD,
			r.LatencyMs, boolToInt(r.Cached), r.FallbackDepth, r.Timestamp.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordsSince returns all records from a point in time, across every user.
func (s *LedgerStore) RecordsSince(ctx context.Context, since time.Time) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, model_id, provider, language, outcome,
		       prompt_tokens, completion_tokens, cost_usd, latency_ms, cached,
		       fallback_depth, timestamp
		FROM usage_records
		WHERE datetime(timestamp) >= datetime(?)
		ORDER BY timestamp
	`, since.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UserRecordsSince returns a user's records from a point in time.
func (s *LedgerStore) UserRecordsSince(ctx context.Context, userID string, since time.Time) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, model_id, provider, language, outcome,
		       prompt_tokens, completion_tokens, cost_usd, latency_ms, cached,
		       fallback_depth, timestamp
		FROM usage_records
		WHERE user_id = ? AND datetime(timestamp) >= datetime(?)
		ORDER BY timestamp
	`, userID, since.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ModelRecordsSince returns a model's records from a point in time.
func (s *LedgerStore) ModelRecordsSince(ctx context.Context, modelID string, since time.Time) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, model_id, provider, language, outcome,
		       prompt_tokens, completion_tokens, cost_usd, latency_ms, cached,
		       fallback_depth, timestamp
		FROM usage_records
		WHERE model_id = ? AND datetime(timestamp) >= datetime(?)
		ORDER BY timestamp
	`, modelID, since.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UserStats returns aggregated usage for a user over a period.
func (s *LedgerStore) UserStats(ctx context.Context, userID string, start, end time.Time) (usage.Stats, error) {
	records, err := s.UserRecordsSince(ctx, userID, start)
	if err != nil {
		return usage.Stats{}, err
	}
	return usage.Aggregate(userID, records, start, end), nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]usage.Record, error) {
	var records []usage.Record
	for rows.Next() {
		var r usage.Record
		var outcome string
		var cached int
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.SessionID, &r.ModelID, &r.Provider, &r.Language,
			&outcome, &r.PromptTokens, &r.CompletionTokens, &r.CostUSD,
			&r.LatencyMs, &cached, &r.FallbackDepth, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Outcome = usage.Outcome(outcome)
		r.Cached = cached != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
