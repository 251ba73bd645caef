package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/ports"
)

// fuzzyCandidateLimit caps how many stored entries one fuzzy lookup scans.
const fuzzyCandidateLimit = 50

// CacheService serves and stores dispatch responses.
type CacheService struct {
	store   ports.CacheStore
	clock   ports.Clock
	metrics ports.MetricsRecorder
	logger  zerolog.Logger

	dynamicCfg atomic.Pointer[CacheServiceConfig]
}

// CacheServiceConfig contains hot-reloadable cache configuration.
type CacheServiceConfig struct {
	Enabled        bool
	Strategy       cache.Strategy
	TTL            time.Duration
	FuzzyThreshold float64
	KeyDepth       int
}

// CacheDeps contains dependencies for CacheService.
type CacheDeps struct {
	Store   ports.CacheStore
	Clock   ports.Clock
	Metrics ports.MetricsRecorder
}

// NewCacheService creates a new cache service.
func NewCacheService(deps CacheDeps, cfg CacheServiceConfig, logger zerolog.Logger) *CacheService {
	s := &CacheService{
		store:   deps.Store,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		logger:  logger,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the cache tuning.
// This is thread-safe and can be called while handling requests.
func (s *CacheService) UpdateConfig(cfg CacheServiceConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = cache.StrategyExact
	}
	if cfg.FuzzyThreshold == 0 {
		cfg.FuzzyThreshold = 0.8
	}
	if cfg.KeyDepth == 0 {
		cfg.KeyDepth = 3
	}
	s.dynamicCfg.Store(&cfg)
}

// Lookup checks the cache for a stored response to this conversation state.
// Expired entries never hit. Lookup failures degrade to a miss.
func (s *CacheService) Lookup(ctx context.Context, userID string, messages []conversation.Message, lang conversation.Language) (cache.Entry, bool) {
	cfg := s.dynamicCfg.Load()
	if !cfg.Enabled {
		return cache.Entry{}, false
	}
	now := s.clock.Now()

	key := cache.Key(messages, lang, userID, cfg.KeyDepth)
	entry, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Msg("cache get failed")
		s.metrics.RecordCacheLookup(string(cfg.Strategy), false)
		return cache.Entry{}, false
	}
	if found && !entry.Expired(now) {
		s.metrics.RecordCacheLookup(string(cfg.Strategy), true)
		return s.touch(ctx, entry), true
	}

	// Semantic matching is not implemented; it degrades to fuzzy.
	if cfg.Strategy == cache.StrategyFuzzy || cfg.Strategy == cache.StrategySemantic {
		if entry, ok := s.fuzzyLookup(ctx, cfg, userID, messages, lang, now); ok {
			s.metrics.RecordCacheLookup(string(cfg.Strategy), true)
			return s.touch(ctx, entry), true
		}
	}

	s.metrics.RecordCacheLookup(string(cfg.Strategy), false)
	return cache.Entry{}, false
}

// touch bumps the entry's hit count and access time. The write-back is
// best effort; a failure still serves the hit.
func (s *CacheService) touch(ctx context.Context, entry cache.Entry) cache.Entry {
	entry.Hits++
	entry.AccessedAt = s.clock.Now()
	if err := s.store.Put(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("key", entry.Key).Msg("cache hit count update failed")
	}
	return entry
}

func (s *CacheService) fuzzyLookup(ctx context.Context, cfg *CacheServiceConfig, userID string, messages []conversation.Message, lang conversation.Language, now time.Time) (cache.Entry, bool) {
	query := lastUserMessage(messages)
	if query == "" {
		return cache.Entry{}, false
	}

	candidates, err := s.store.Candidates(ctx, userID, lang, fuzzyCandidateLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("cache candidates failed")
		return cache.Entry{}, false
	}
	return cache.BestFuzzyMatch(query, candidates, cfg.FuzzyThreshold, now)
}

// Store saves a successful dispatch response for later hits. The entry
// snapshots the conversation state it answered (user, session, language,
// last prompt) plus any caller tags.
func (s *CacheService) Store(ctx context.Context, req dispatch.Request, resp dispatch.Response, tags []string) error {
	cfg := s.dynamicCfg.Load()
	if !cfg.Enabled {
		return nil
	}
	now := s.clock.Now()

	entry := cache.Entry{
		Key:              cache.Key(req.Messages, resp.Language, req.UserID, cfg.KeyDepth),
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Response:         resp.Content,
		ModelID:          resp.ModelID,
		Language:         resp.Language,
		Prompt:           lastUserMessage(req.Messages),
		Tags:             tags,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          resp.CostUSD,
		CreatedAt:        now,
		AccessedAt:       now,
		ExpiresAt:        now.Add(cfg.TTL),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// CacheInfo is a point-in-time view of the cache tuning, for status reporting.
type CacheInfo struct {
	Enabled    bool           `json:"enabled"`
	Strategy   cache.Strategy `json:"strategy"`
	TTLSeconds int64          `json:"ttl_seconds"`
}

// Info reports the currently active cache configuration.
func (s *CacheService) Info() CacheInfo {
	cfg := s.dynamicCfg.Load()
	return CacheInfo{
		Enabled:    cfg.Enabled,
		Strategy:   cfg.Strategy,
		TTLSeconds: int64(cfg.TTL / time.Second),
	}
}

// Purge removes expired entries. Meant to run on a timer from bootstrap.
func (s *CacheService) Purge(ctx context.Context) (int, error) {
	return s.store.PurgeExpired(ctx, s.clock.Now())
}

func lastUserMessage(messages []conversation.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
