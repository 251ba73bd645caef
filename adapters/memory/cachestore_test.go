package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/artpar/modelgate/adapters/memory"
	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
)

func TestCacheStore_PutGet(t *testing.T) {
	s := memory.NewCacheStore(0)
	ctx := context.Background()

	e := cache.Entry{
		Key:       "abc",
		Response:  "hello",
		Language:  conversation.LanguageEnglish,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if got.Response != "hello" {
		t.Errorf("response = %q, want hello", got.Response)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("Get returned a missing key")
	}
}

func TestCacheStore_LRUEviction(t *testing.T) {
	s := memory.NewCacheStore(10)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		e := cache.Entry{
			Key:       fmt.Sprintf("k%02d", i),
			Language:  conversation.LanguageEnglish,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	// Capacity 10 with a batch eviction drops the oldest entries.
	if s.Len() > 10 {
		t.Errorf("len = %d, want <= 10 after eviction", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "k10"); !ok {
		t.Error("most recently inserted entry was evicted")
	}
}

func TestCacheStore_PurgeExpired(t *testing.T) {
	s := memory.NewCacheStore(0)
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, cache.Entry{Key: "live", ExpiresAt: now.Add(time.Hour)})
	s.Put(ctx, cache.Entry{Key: "dead", ExpiresAt: now.Add(-time.Minute)})

	removed, err := s.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok, _ := s.Get(ctx, "dead"); ok {
		t.Error("expired entry survived the purge")
	}
	if _, ok, _ := s.Get(ctx, "live"); !ok {
		t.Error("live entry was purged")
	}
}

func TestCacheStore_CandidatesFiltersLanguageAndExpiry(t *testing.T) {
	s := memory.NewCacheStore(0)
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, cache.Entry{Key: "en", UserID: "u", Language: conversation.LanguageEnglish, ExpiresAt: now.Add(time.Hour)})
	s.Put(ctx, cache.Entry{Key: "ar", UserID: "u", Language: conversation.LanguageArabic, ExpiresAt: now.Add(time.Hour)})
	s.Put(ctx, cache.Entry{Key: "old", UserID: "u", Language: conversation.LanguageEnglish, ExpiresAt: now.Add(-time.Minute)})
	s.Put(ctx, cache.Entry{Key: "other", UserID: "someone-else", Language: conversation.LanguageEnglish, ExpiresAt: now.Add(time.Hour)})

	got, err := s.Candidates(ctx, "u", conversation.LanguageEnglish, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].Key != "en" {
		t.Errorf("candidates = %v, want just the live English entry", got)
	}
}
