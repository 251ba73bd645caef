package cache_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/domain/conversation"
)

var baseTime = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

func msgs(contents ...string) []conversation.Message {
	var out []conversation.Message
	for i, c := range contents {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		out = append(out, conversation.Message{Role: role, Content: c})
	}
	return out
}

func TestKey_Deterministic(t *testing.T) {
	m := msgs("what is on the menu", "we have pasta", "how much is it")
	k1 := cache.Key(m, conversation.LanguageEnglish, "user-1", 3)
	k2 := cache.Key(m, conversation.LanguageEnglish, "user-1", 3)
	if k1 != k2 {
		t.Errorf("keys differ for identical input: %s vs %s", k1, k2)
	}
	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}
}

func TestKey_VariesByUserAndLanguage(t *testing.T) {
	m := msgs("hello")
	base := cache.Key(m, conversation.LanguageEnglish, "user-1", 3)

	if got := cache.Key(m, conversation.LanguageEnglish, "user-2", 3); got == base {
		t.Error("key identical across users")
	}
	if got := cache.Key(m, conversation.LanguageArabic, "user-1", 3); got == base {
		t.Error("key identical across languages")
	}
}

func TestKey_OnlyTrailingMessagesParticipate(t *testing.T) {
	short := msgs("a", "b", "c")
	long := msgs("x", "y", "a", "b", "c")

	k1 := cache.Key(short, conversation.LanguageEnglish, "u", 3)
	k2 := cache.Key(long, conversation.LanguageEnglish, "u", 3)
	if k1 != k2 {
		t.Error("keys differ although the last 3 messages match")
	}
}

func TestKey_NormalizesCaseAndWhitespace(t *testing.T) {
	a := cache.Key(msgs("  Hello World  "), conversation.LanguageEnglish, "u", 3)
	b := cache.Key(msgs("hello world"), conversation.LanguageEnglish, "u", 3)
	if a != b {
		t.Error("keys differ for content equal after normalization")
	}
}

func TestEntry_Expired(t *testing.T) {
	e := cache.Entry{ExpiresAt: baseTime.Add(time.Hour)}
	if e.Expired(baseTime) {
		t.Error("entry expired before its TTL")
	}
	if !e.Expired(baseTime.Add(time.Hour)) {
		t.Error("entry not expired at its TTL boundary")
	}

	forever := cache.Entry{}
	if forever.Expired(baseTime.Add(1000 * time.Hour)) {
		t.Error("entry with zero ExpiresAt should never expire")
	}
}

func TestEntry_JSONRoundTrip(t *testing.T) {
	in := cache.Entry{
		Key:              "abc123",
		UserID:           "user-1",
		SessionID:        "session-9",
		Response:         "we open at nine\nand close at five é中م",
		ModelID:          "openai/gpt-a",
		Language:         conversation.LanguageArabic,
		Prompt:           "when do you open",
		Tags:             []string{"model:openai/gpt-a", "lang:ar"},
		PromptTokens:     30,
		CompletionTokens: 12,
		CostUSD:          0.0105,
		Hits:             3,
		CreatedAt:        baseTime,
		AccessedAt:       baseTime.Add(time.Minute),
		ExpiresAt:        baseTime.Add(time.Hour),
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out cache.Entry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Response != in.Response {
		t.Errorf("Response = %q, want %q", out.Response, in.Response)
	}
	if out.Key != in.Key || out.Language != in.Language || out.Hits != in.Hits {
		t.Errorf("fields lost in round trip: %+v", out)
	}
	if out.SessionID != in.SessionID {
		t.Errorf("SessionID = %q, want %q", out.SessionID, in.SessionID)
	}
	if out.PromptTokens != 30 || out.CompletionTokens != 12 {
		t.Errorf("tokens = %d/%d, want 30/12", out.PromptTokens, out.CompletionTokens)
	}
	if len(out.Tags) != 2 || !out.HasTag("lang:ar") {
		t.Errorf("Tags = %v", out.Tags)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", out.ExpiresAt, in.ExpiresAt)
	}
	if !out.AccessedAt.Equal(in.AccessedAt) {
		t.Errorf("AccessedAt = %v, want %v", out.AccessedAt, in.AccessedAt)
	}
}

func TestSimilarity(t *testing.T) {
	if got := cache.Similarity("hello world", "hello world"); got != 1 {
		t.Errorf("identical texts similarity = %v, want 1", got)
	}
	if got := cache.Similarity("hello world", "goodbye moon"); got != 0 {
		t.Errorf("disjoint texts similarity = %v, want 0", got)
	}
	// {hello, world, there} vs {hello, world}: 2 shared of 3 total.
	got := cache.Similarity("hello world there", "hello world")
	if got < 0.66 || got > 0.67 {
		t.Errorf("similarity = %v, want ~0.667", got)
	}
}

func TestSimilarity_IgnoresPunctuationAndCase(t *testing.T) {
	if got := cache.Similarity("Hello, World!", "hello world"); got != 1 {
		t.Errorf("similarity = %v, want 1 after normalization", got)
	}
}

func TestBestFuzzyMatch(t *testing.T) {
	entries := []cache.Entry{
		{Key: "a", Prompt: "what time do you open today", ExpiresAt: baseTime.Add(time.Hour)},
		{Key: "b", Prompt: "what time do you open", ExpiresAt: baseTime.Add(time.Hour)},
		{Key: "c", Prompt: "completely unrelated text", ExpiresAt: baseTime.Add(time.Hour)},
	}

	e, ok := cache.BestFuzzyMatch("what time do you open", entries, 0.8, baseTime)
	if !ok {
		t.Fatal("no fuzzy match found")
	}
	if e.Key != "b" {
		t.Errorf("matched %q, want the exact-prompt entry b", e.Key)
	}
}

func TestBestFuzzyMatch_ThresholdBlocksWeakMatches(t *testing.T) {
	entries := []cache.Entry{
		{Key: "a", Prompt: "do you deliver to downtown", ExpiresAt: baseTime.Add(time.Hour)},
	}
	if _, ok := cache.BestFuzzyMatch("what is your address", entries, 0.8, baseTime); ok {
		t.Error("weak match cleared the 0.8 threshold")
	}
}

func TestBestFuzzyMatch_SkipsExpired(t *testing.T) {
	entries := []cache.Entry{
		{Key: "a", Prompt: "what time do you open", ExpiresAt: baseTime.Add(-time.Minute)},
	}
	if _, ok := cache.BestFuzzyMatch("what time do you open", entries, 0.8, baseTime); ok {
		t.Error("expired entry matched")
	}
}
