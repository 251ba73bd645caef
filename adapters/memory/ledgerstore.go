package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/modelgate/domain/usage"
	"github.com/artpar/modelgate/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore.
type LedgerStore struct {
	mu      sync.RWMutex
	records []usage.Record
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		records: make([]usage.Record, 0),
	}
}

// RecordBatch stores multiple usage records.
func (s *LedgerStore) RecordBatch(ctx context.Context, records []usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, records...)
	return nil
}

// RecordsSince returns all records from a point in time, across every user.
func (s *LedgerStore) RecordsSince(ctx context.Context, since time.Time) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if !r.Timestamp.Before(since) {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

// UserRecordsSince returns a user's records from a point in time.
func (s *LedgerStore) UserRecordsSince(ctx context.Context, userID string, since time.Time) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if r.UserID == userID && !r.Timestamp.Before(since) {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

// ModelRecordsSince returns a model's records from a point in time.
func (s *LedgerStore) ModelRecordsSince(ctx context.Context, modelID string, since time.Time) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if r.ModelID == modelID && !r.Timestamp.Before(since) {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

// UserStats returns aggregated usage for a user over a period.
func (s *LedgerStore) UserStats(ctx context.Context, userID string, start, end time.Time) (usage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if r.UserID == userID {
			matching = append(matching, r)
		}
	}
	return usage.Aggregate(userID, matching, start, end), nil
}

// GetAll returns all records (for testing).
func (s *LedgerStore) GetAll() []usage.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]usage.Record{}, s.records...)
}

// Drain returns all records and clears the store (for testing).
func (s *LedgerStore) Drain() []usage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.records
	s.records = make([]usage.Record, 0)
	return records
}

// Clear removes all records (for testing).
func (s *LedgerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make([]usage.Record, 0)
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
