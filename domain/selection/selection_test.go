package selection_test

import (
	"testing"
	"time"

	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/domain/selection"
)

func chatModel(id string, priority int) model.Descriptor {
	return model.Descriptor{
		ID:            id,
		Provider:      "openrouter",
		Priority:      priority,
		CostPer1KOut:  1.0,
		ContextWindow: 8000,
		Languages:     []conversation.Language{conversation.LanguageEnglish},
		Capabilities:  []model.Capability{model.CapabilityChat},
		Status:        model.StatusAvailable,
		SuccessRate:   0.95,
		AvgLatency:    2 * time.Second,
	}
}

func TestSelect_PrefersHigherPriority(t *testing.T) {
	candidates := []model.Descriptor{
		chatModel("slow/low", 5),
		chatModel("fast/high", 1),
		chatModel("mid/mid", 3),
	}

	r, ok := selection.Select(candidates, selection.Criteria{Language: conversation.LanguageEnglish}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "fast/high" {
		t.Errorf("primary = %q, want fast/high", r.Primary.ID)
	}
	if len(r.Fallbacks) != 2 {
		t.Fatalf("fallbacks = %d, want 2", len(r.Fallbacks))
	}
	if r.Fallbacks[0].ID != "mid/mid" || r.Fallbacks[1].ID != "slow/low" {
		t.Errorf("fallback order = [%s %s], want [mid/mid slow/low]",
			r.Fallbacks[0].ID, r.Fallbacks[1].ID)
	}
}

func TestSelect_ArabicPrefersCulturalAware(t *testing.T) {
	plain := chatModel("plain/model", 2)
	plain.Languages = []conversation.Language{conversation.LanguageArabic}

	aware := chatModel("aware/model", 2)
	aware.Languages = []conversation.Language{conversation.LanguageArabic}
	aware.Capabilities = append(aware.Capabilities, model.CapabilityCulturalAware)

	r, ok := selection.Select([]model.Descriptor{plain, aware},
		selection.Criteria{Language: conversation.LanguageArabic}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "aware/model" {
		t.Errorf("primary = %q, want aware/model (cultural awareness bonus)", r.Primary.ID)
	}
}

func TestSelect_FreeModelBonus(t *testing.T) {
	paid := chatModel("paid/model", 2)
	paid.CostPer1KOut = 10

	free := chatModel("free/model", 2)
	free.CostPer1KIn = 0
	free.CostPer1KOut = 0

	r, ok := selection.Select([]model.Descriptor{paid, free},
		selection.Criteria{Language: conversation.LanguageEnglish}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "free/model" {
		t.Errorf("primary = %q, want free/model", r.Primary.ID)
	}
}

func TestSelect_FiltersUnsupportedLanguage(t *testing.T) {
	arabic := chatModel("a/arabic-capable", 4)
	arabic.Languages = []conversation.Language{conversation.LanguageArabic, conversation.LanguageEnglish}

	englishOnly := chatModel("b/english-only", 1)

	r, ok := selection.Select([]model.Descriptor{arabic, englishOnly},
		selection.Criteria{Language: conversation.LanguageArabic}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "a/arabic-capable" {
		t.Errorf("primary = %q, want a/arabic-capable (english-only must be filtered out)", r.Primary.ID)
	}
	if len(r.Fallbacks) != 0 {
		t.Errorf("fallbacks = %d, want 0 (no other Arabic-capable model)", len(r.Fallbacks))
	}
}

func TestSelect_PreferFreeChoosesFreeModel(t *testing.T) {
	a := chatModel("a/bilingual", 1)
	a.Languages = []conversation.Language{conversation.LanguageArabic, conversation.LanguageEnglish}
	a.CostPer1KOut = 0.25

	b := chatModel("b/english", 2)
	b.CostPer1KOut = 0.15

	c := chatModel("c/english-free", 3)
	c.CostPer1KIn = 0
	c.CostPer1KOut = 0

	r, ok := selection.Select([]model.Descriptor{a, b, c}, selection.Criteria{
		Language:   conversation.LanguageEnglish,
		PreferFree: true,
	}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "c/english-free" {
		t.Errorf("primary = %q, want c/english-free (paid models filtered out)", r.Primary.ID)
	}
	if len(r.Fallbacks) != 0 {
		t.Errorf("fallbacks = %d, want 0", len(r.Fallbacks))
	}
}

func TestSelect_CostCeilingFiltersExpensiveModels(t *testing.T) {
	cheap := chatModel("cheap/model", 5)
	cheap.CostPer1KOut = 0.1

	pricey := chatModel("pricey/model", 1)
	pricey.CostPer1KOut = 2.0

	r, ok := selection.Select([]model.Descriptor{cheap, pricey}, selection.Criteria{
		Language:     conversation.LanguageEnglish,
		MaxCostPer1K: 0.5,
	}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "cheap/model" {
		t.Errorf("primary = %q, want cheap/model under the 0.5 ceiling", r.Primary.ID)
	}
}

func TestSelect_RequiredCapabilityFilters(t *testing.T) {
	plain := chatModel("plain/model", 1)

	fn := chatModel("fn/model", 3)
	fn.Capabilities = append(fn.Capabilities, model.CapabilityFunctionCalling)

	r, ok := selection.Select([]model.Descriptor{plain, fn}, selection.Criteria{
		Language:   conversation.LanguageEnglish,
		Capability: model.CapabilityFunctionCalling,
	}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "fn/model" {
		t.Errorf("primary = %q, want fn/model", r.Primary.ID)
	}
}

func TestSelect_LongConversationPrefersLargeContext(t *testing.T) {
	small := chatModel("small/ctx", 2)
	small.ContextWindow = 8000

	large := chatModel("large/ctx", 2)
	large.ContextWindow = 128000

	r, ok := selection.Select([]model.Descriptor{small, large},
		selection.Criteria{Language: conversation.LanguageEnglish, HistoryLength: 15}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "large/ctx" {
		t.Errorf("primary = %q, want large/ctx for a long conversation", r.Primary.ID)
	}
}

func TestSelect_SkipsUnavailable(t *testing.T) {
	up := chatModel("up/model", 5)
	down := chatModel("down/model", 1)
	down.Status = model.StatusUnavailable

	r, ok := selection.Select([]model.Descriptor{up, down},
		selection.Criteria{Language: conversation.LanguageEnglish}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "up/model" {
		t.Errorf("primary = %q, want up/model (down/model is unavailable)", r.Primary.ID)
	}
	if len(r.Fallbacks) != 0 {
		t.Errorf("fallbacks = %d, want 0", len(r.Fallbacks))
	}
}

func TestSelect_NoEligibleModels(t *testing.T) {
	down := chatModel("down/model", 1)
	down.Status = model.StatusUnavailable

	if _, ok := selection.Select([]model.Descriptor{down},
		selection.Criteria{Language: conversation.LanguageEnglish}, 3); ok {
		t.Error("Select succeeded with no available models")
	}
	if _, ok := selection.Select(nil,
		selection.Criteria{Language: conversation.LanguageEnglish}, 3); ok {
		t.Error("Select succeeded with an empty candidate list")
	}
}

func TestSelect_PreferredModelOverride(t *testing.T) {
	a := chatModel("model/a", 1)
	b := chatModel("model/b", 5)

	r, ok := selection.Select([]model.Descriptor{a, b}, selection.Criteria{
		Language:       conversation.LanguageEnglish,
		PreferredModel: "model/b",
	}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "model/b" {
		t.Errorf("primary = %q, want the explicitly requested model/b", r.Primary.ID)
	}
}

func TestSelect_PreferredModelDownFallsBackToScoring(t *testing.T) {
	a := chatModel("model/a", 1)
	b := chatModel("model/b", 5)
	b.Status = model.StatusUnavailable

	r, ok := selection.Select([]model.Descriptor{a, b}, selection.Criteria{
		Language:       conversation.LanguageEnglish,
		PreferredModel: "model/b",
	}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "model/a" {
		t.Errorf("primary = %q, want model/a when the preferred model is down", r.Primary.ID)
	}
}

func TestSelect_TieBreaksByPriorityThenID(t *testing.T) {
	a := chatModel("zzz/model", 2)
	b := chatModel("aaa/model", 2)

	r, ok := selection.Select([]model.Descriptor{a, b},
		selection.Criteria{Language: conversation.LanguageEnglish}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if r.Primary.ID != "aaa/model" {
		t.Errorf("primary = %q, want aaa/model (ID tie break)", r.Primary.ID)
	}
}

func TestSelect_FallbackCap(t *testing.T) {
	candidates := []model.Descriptor{
		chatModel("m/1", 1), chatModel("m/2", 2), chatModel("m/3", 3),
		chatModel("m/4", 4), chatModel("m/5", 5),
	}

	r, ok := selection.Select(candidates, selection.Criteria{Language: conversation.LanguageEnglish}, 3)
	if !ok {
		t.Fatal("Select returned no result")
	}
	if len(r.Fallbacks) != 3 {
		t.Errorf("fallbacks = %d, want capped at 3", len(r.Fallbacks))
	}
	chain := r.Chain()
	if len(chain) != 4 || chain[0].ID != r.Primary.ID {
		t.Errorf("chain length = %d, want 4 starting with the primary", len(chain))
	}
}

func TestScore_Deterministic(t *testing.T) {
	m := chatModel("m/1", 2)
	c := selection.Criteria{Language: conversation.LanguageEnglish, HistoryLength: 12}
	first := selection.Score(m, c)
	for i := 0; i < 5; i++ {
		if got := selection.Score(m, c); got != first {
			t.Fatalf("score not deterministic: %v vs %v", got, first)
		}
	}
}
