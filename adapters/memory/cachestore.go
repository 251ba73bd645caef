package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/ports"
)

const (
	defaultMaxEntries = 1000
	evictionBatch     = 100
)

// CacheStore is an in-memory implementation of ports.CacheStore with
// LRU eviction. When the store passes its capacity, the least recently
// used batch of entries is dropped in one sweep.
type CacheStore struct {
	mu         sync.Mutex
	entries    map[string]cache.Entry
	lastAccess map[string]time.Time
	maxEntries int
}

// NewCacheStore creates a new in-memory cache store.
// maxEntries of 0 uses the default capacity.
func NewCacheStore(maxEntries int) *CacheStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &CacheStore{
		entries:    make(map[string]cache.Entry),
		lastAccess: make(map[string]time.Time),
		maxEntries: maxEntries,
	}
}

// Get retrieves an entry by exact key.
func (s *CacheStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return cache.Entry{}, false, nil
	}
	s.lastAccess[key] = time.Now()
	return e, true, nil
}

// Put stores an entry under its key, evicting LRU entries if needed.
func (s *CacheStore) Put(ctx context.Context, e cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.Key] = e
	s.lastAccess[e.Key] = time.Now()

	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}
	return nil
}

// Delete removes an entry.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	delete(s.lastAccess, key)
	return nil
}

// Candidates returns unexpired entries for a user and language.
// The scan is unordered; callers score candidates themselves.
func (s *CacheStore) Candidates(ctx context.Context, userID string, lang conversation.Language, limit int) ([]cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []cache.Entry
	for _, e := range s.entries {
		if e.UserID != userID || e.Language != lang || e.Expired(now) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PurgeExpired removes entries past their TTL.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			delete(s.lastAccess, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries (for testing).
func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes all entries (for testing).
func (s *CacheStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cache.Entry)
	s.lastAccess = make(map[string]time.Time)
}

// evictLocked drops the least recently used batch. Caller holds the lock.
func (s *CacheStore) evictLocked() {
	type access struct {
		key string
		at  time.Time
	}
	ordered := make([]access, 0, len(s.lastAccess))
	for k, at := range s.lastAccess {
		ordered = append(ordered, access{k, at})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].at.Before(ordered[j].at)
	})

	n := evictionBatch
	if n > len(ordered) {
		n = len(ordered)
	}
	for _, a := range ordered[:n] {
		delete(s.entries, a.key)
		delete(s.lastAccess, a.key)
	}
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)
