package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/ports"
)

const defaultCacheCapacity = 1000

// CacheStore implements ports.CacheStore using SQLite. Beyond TTL
// purges, the store holds at most maxEntries rows; inserts past the
// capacity evict the least recently accessed entries.
type CacheStore struct {
	db         *DB
	maxEntries int
}

// NewCacheStore creates a new SQLite cache store. maxEntries <= 0 uses
// the default capacity.
func NewCacheStore(db *DB, maxEntries int) *CacheStore {
	if maxEntries <= 0 {
		maxEntries = defaultCacheCapacity
	}
	return &CacheStore{db: db, maxEntries: maxEntries}
}

// Get retrieves an entry by exact key. Hit accounting is the caller's
// job; reads leave the row untouched.
func (s *CacheStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, user_id, session_id, response, model_id, language, prompt,
		       tags, prompt_tokens, completion_tokens, cost_usd,
		       created_at, accessed_at, expires_at, hits
		FROM cache_entries WHERE key = ?
	`, key)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	return e, true, nil
}

// Put stores an entry under its key and evicts the least recently
// accessed rows when the capacity is exceeded.
func (s *CacheStore) Put(ctx context.Context, e cache.Entry) error {
	var expires any
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt.UTC()
	}
	accessed := e.AccessedAt
	if accessed.IsZero() {
		accessed = e.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (
			key, user_id, session_id, response, model_id, language, prompt,
			tags, prompt_tokens, completion_tokens, cost_usd,
			created_at, accessed_at, expires_at, hits
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			response = excluded.response,
			model_id = excluded.model_id,
			prompt = excluded.prompt,
			tags = excluded.tags,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			cost_usd = excluded.cost_usd,
			created_at = excluded.created_at,
			accessed_at = excluded.accessed_at,
			expires_at = excluded.expires_at,
			hits = excluded.hits
	`, e.Key, e.UserID, e.SessionID, e.Response, e.ModelID, string(e.Language),
		e.Prompt, strings.Join(e.Tags, ","), e.PromptTokens, e.CompletionTokens,
		e.CostUSD, e.CreatedAt.UTC(), accessed.UTC(), expires, e.Hits)
	if err != nil {
		return err
	}
	return s.evictOverCapacity(ctx)
}

// evictOverCapacity drops the least recently accessed rows until the
// table fits the capacity again.
func (s *CacheStore) evictOverCapacity(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&count); err != nil {
		return err
	}
	if count <= s.maxEntries {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries
			ORDER BY accessed_at ASC, created_at ASC
			LIMIT ?
		)
	`, count-s.maxEntries)
	return err
}

// Delete removes an entry.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	return err
}

// Candidates returns unexpired entries for a user and language.
func (s *CacheStore) Candidates(ctx context.Context, userID string, lang conversation.Language, limit int) ([]cache.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, user_id, session_id, response, model_id, language, prompt,
		       tags, prompt_tokens, completion_tokens, cost_usd,
		       created_at, accessed_at, expires_at, hits
		FROM cache_entries
		WHERE user_id = ? AND language = ?
		  AND (expires_at IS NULL OR datetime(expires_at) > datetime('now'))
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, string(lang), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeExpired removes entries past their TTL.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE expires_at IS NOT NULL AND datetime(expires_at) <= datetime(?)
	`, now.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type entryScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row entryScanner) (cache.Entry, error) {
	var e cache.Entry
	var lang, tags string
	var expires sql.NullTime
	err := row.Scan(
		&e.Key, &e.UserID, &e.SessionID, &e.Response, &e.ModelID, &lang, &e.Prompt,
		&tags, &e.PromptTokens, &e.CompletionTokens, &e.CostUSD,
		&e.CreatedAt, &e.AccessedAt, &expires, &e.Hits,
	)
	if err != nil {
		return cache.Entry{}, err
	}
	e.Language = conversation.Language(lang)
	if tags != "" {
		e.Tags = strings.Split(tags, ",")
	}
	if expires.Valid {
		e.ExpiresAt = expires.Time
	}
	return e, nil
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)
