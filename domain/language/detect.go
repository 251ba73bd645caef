// Package language provides rule-based language detection for Arabic and English.
// All functions are deterministic - same input always produces same output.
package language

import (
	"regexp"
	"strings"

	"github.com/artpar/modelgate/domain/conversation"
)

// Result represents the outcome of a detection (value type).
type Result struct {
	Language   conversation.Language
	Confidence float64 // 0..1
	IsMixed    bool
}

// Thresholds tunes the detector. Zero values fall back to defaults.
type Thresholds struct {
	ScriptWeight    float64 // weight of the character-script ratio (default 0.6)
	WordWeight      float64 // weight of the common-word ratio (default 0.3)
	DomainWeight    float64 // weight of the food/service vocabulary (default 0.1)
	BoostRatio      float64 // script ratio above which confidence is floored (default 0.7)
	MixedRatio      float64 // script ratio above which a script counts as present (default 0.1)
	ConfidenceFloor float64 // floor applied on a boost (default 0.9)
	ConfidenceCap   float64 // hard confidence cap (default 0.95)
	MixedDiscount   float64 // confidence multiplier for mixed text (default 0.8)
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ScriptWeight:    0.6,
		WordWeight:      0.3,
		DomainWeight:    0.1,
		BoostRatio:      0.7,
		MixedRatio:      0.1,
		ConfidenceFloor: 0.9,
		ConfidenceCap:   0.95,
		MixedDiscount:   0.8,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ScriptWeight == 0 {
		t.ScriptWeight = d.ScriptWeight
	}
	if t.WordWeight == 0 {
		t.WordWeight = d.WordWeight
	}
	if t.DomainWeight == 0 {
		t.DomainWeight = d.DomainWeight
	}
	if t.BoostRatio == 0 {
		t.BoostRatio = d.BoostRatio
	}
	if t.MixedRatio == 0 {
		t.MixedRatio = d.MixedRatio
	}
	if t.ConfidenceFloor == 0 {
		t.ConfidenceFloor = d.ConfidenceFloor
	}
	if t.ConfidenceCap == 0 {
		t.ConfidenceCap = d.ConfidenceCap
	}
	if t.MixedDiscount == 0 {
		t.MixedDiscount = d.MixedDiscount
	}
	return t
}

// Common high-frequency words per language, plus a food/service vocabulary
// matching the deployment domain. Kept small on purpose - the script ratio
// carries most of the signal.
var (
	arabicCommonWords = wordSet(
		"مرحبا", "أهلا", "شكرا", "من", "في", "على", "إلى", "مع", "هذا", "ذلك",
		"التي", "الذي", "لكن", "ولكن", "أيضا", "كذلك", "حتى", "عند", "عندما",
		"مطعم", "طعام", "خدمة", "طلب", "حجز", "موعد", "وجبة", "قائمة", "أكل",
		"شراب", "مشروب", "حلو", "مالح", "طازج", "لذيذ", "ممتاز", "جيد", "سيء",
		"نظيف", "سريع", "بطيء", "ساخن", "بارد", "جديد", "قديم", "كبير", "صغير",
	)

	englishCommonWords = wordSet(
		"the", "and", "to", "of", "a", "in", "is", "it", "you", "that",
		"he", "was", "for", "on", "are", "as", "with", "his", "they", "i",
		"restaurant", "food", "service", "order", "booking", "reservation",
		"meal", "menu", "eat", "drink", "sweet", "salty", "fresh", "delicious",
		"excellent", "good", "bad", "clean", "fast", "slow", "hot", "cold",
	)

	foodContextArabic = wordSet(
		"مطعم", "مقهى", "كافيه", "مطبخ", "شيف", "طباخ", "نادل", "خدمة",
		"فطار", "غداء", "عشاء", "وجبة", "طبق", "سلطة", "شوربة", "لحم",
		"دجاج", "سمك", "خضار", "فواكه", "حلويات", "مشروبات", "عصير",
		"شاي", "قهوة", "ماء", "حليب", "خبز", "أرز", "معكرونة",
	)

	foodContextEnglish = wordSet(
		"restaurant", "cafe", "kitchen", "chef", "cook", "waiter", "service",
		"breakfast", "lunch", "dinner", "meal", "dish", "salad", "soup", "meat",
		"chicken", "fish", "vegetables", "fruits", "desserts", "drinks", "juice",
		"tea", "coffee", "water", "milk", "bread", "rice", "pasta",
	)
)

var (
	urlRe   = regexp.MustCompile(`https?://[^\s]+`)
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\+?[\d\s\-()]{10,}`)
)

// Detect detects the primary language of text.
// This is a PURE function - no side effects, deterministic, safe to memoize.
func Detect(text string, t Thresholds) Result {
	t = t.withDefaults()

	cleaned := cleanText(text)
	if cleaned == "" {
		return Result{Language: conversation.LanguageEnglish, Confidence: 0.5}
	}

	arabicChars, latinChars, otherChars := countScripts(cleaned)
	totalChars := arabicChars + latinChars + otherChars
	if totalChars == 0 {
		return Result{Language: conversation.LanguageEnglish, Confidence: 0.5}
	}

	arabicRatio := float64(arabicChars) / float64(totalChars)
	latinRatio := float64(latinChars) / float64(totalChars)

	isMixed := arabicRatio > t.MixedRatio && latinRatio > t.MixedRatio

	words := strings.Fields(cleaned)
	arabicScore := arabicRatio*t.ScriptWeight +
		wordScore(words, arabicCommonWords)*t.WordWeight +
		domainScore(words, foodContextArabic)*t.DomainWeight
	englishScore := latinRatio*t.ScriptWeight +
		wordScore(words, englishCommonWords)*t.WordWeight +
		domainScore(words, foodContextEnglish)*t.DomainWeight

	var lang conversation.Language
	var confidence float64
	if arabicScore > englishScore {
		lang = conversation.LanguageArabic
		confidence = min(t.ConfidenceCap, arabicScore)
	} else {
		lang = conversation.LanguageEnglish
		confidence = min(t.ConfidenceCap, englishScore)
	}

	// Boost clear cases to a confidence floor.
	if arabicRatio > t.BoostRatio {
		lang = conversation.LanguageArabic
		confidence = max(confidence, t.ConfidenceFloor)
	} else if latinRatio > 0.8 && arabicRatio < t.MixedRatio {
		lang = conversation.LanguageEnglish
		confidence = max(confidence, t.ConfidenceFloor)
	}

	if isMixed {
		confidence *= t.MixedDiscount
	}

	return Result{Language: lang, Confidence: confidence, IsMixed: isMixed}
}

// Stats holds the raw detection signals (for debugging and the status API).
type Stats struct {
	ArabicRatio   float64
	EnglishRatio  float64
	OtherRatio    float64
	ArabicWords   float64
	EnglishWords  float64
	DomainArabic  float64
	DomainEnglish float64
}

// Analyze returns the raw signals Detect combines.
// This is a PURE function.
func Analyze(text string) Stats {
	cleaned := cleanText(text)
	arabicChars, latinChars, otherChars := countScripts(cleaned)
	total := arabicChars + latinChars + otherChars
	if total == 0 {
		return Stats{}
	}

	words := strings.Fields(cleaned)
	return Stats{
		ArabicRatio:   float64(arabicChars) / float64(total),
		EnglishRatio:  float64(latinChars) / float64(total),
		OtherRatio:    float64(otherChars) / float64(total),
		ArabicWords:   wordScore(words, arabicCommonWords),
		EnglishWords:  wordScore(words, englishCommonWords),
		DomainArabic:  domainScore(words, foodContextArabic),
		DomainEnglish: domainScore(words, foodContextEnglish),
	}
}

// IsArabic reports whether text is predominantly Arabic script.
// This is a PURE function.
func IsArabic(text string, threshold float64) bool {
	arabicChars, latinChars, _ := countScripts(strings.ToLower(text))
	letters := arabicChars + latinChars
	if letters == 0 {
		return false
	}
	return float64(arabicChars)/float64(letters) >= threshold
}

// IsEnglish reports whether text is predominantly Latin script.
// Empty or non-letter text defaults to true.
// This is a PURE function.
func IsEnglish(text string, threshold float64) bool {
	arabicChars, latinChars, _ := countScripts(strings.ToLower(text))
	letters := arabicChars + latinChars
	if letters == 0 {
		return true
	}
	return float64(latinChars)/float64(letters) >= threshold
}

// ConversationAnalysis summarizes language use across a conversation.
type ConversationAnalysis struct {
	Primary     conversation.Language
	Switches    int
	Consistency float64 // share of messages in the primary language
}

// AnalyzeConversation detects per-message languages and counts switches.
// This is a PURE function.
func AnalyzeConversation(messages []string, t Thresholds) ConversationAnalysis {
	if len(messages) == 0 {
		return ConversationAnalysis{Primary: conversation.LanguageEnglish}
	}

	counts := map[conversation.Language]int{}
	switches := 0
	var prev conversation.Language

	for i, text := range messages {
		r := Detect(text, t)
		counts[r.Language]++
		if i > 0 && r.Language != prev {
			switches++
		}
		prev = r.Language
	}

	primary := conversation.LanguageEnglish
	best := 0
	// Deterministic order: Arabic wins ties only with a strict majority.
	if counts[conversation.LanguageEnglish] >= counts[conversation.LanguageArabic] {
		primary = conversation.LanguageEnglish
		best = counts[conversation.LanguageEnglish]
	} else {
		primary = conversation.LanguageArabic
		best = counts[conversation.LanguageArabic]
	}

	return ConversationAnalysis{
		Primary:     primary,
		Switches:    switches,
		Consistency: float64(best) / float64(len(messages)),
	}
}

func cleanText(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	text = phoneRe.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case isArabicRune(r), isLatinLetter(r), r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.ToLower(strings.TrimSpace(b.String()))
}

func countScripts(text string) (arabic, latin, other int) {
	for _, r := range text {
		switch {
		case isArabicRune(r):
			arabic++
		case isLatinLetter(r):
			latin++
		case isLetter(r):
			other++
		}
	}
	return arabic, latin, other
}

// Arabic, Arabic Supplement, and Arabic Extended-A blocks.
func isArabicRune(r rune) bool {
	return (r >= 0x0600 && r <= 0x06FF) ||
		(r >= 0x0750 && r <= 0x077F) ||
		(r >= 0x08A0 && r <= 0x08FF)
}

func isLatinLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isLetter(r rune) bool {
	return (r >= 0x00C0 && r <= 0x024F) || // Latin extended
		(r >= 0x0370 && r <= 0x03FF) || // Greek
		(r >= 0x0400 && r <= 0x04FF) || // Cyrillic
		(r >= 0x4E00 && r <= 0x9FFF) // CJK
}

func wordScore(words []string, set map[string]struct{}) float64 {
	if len(words) == 0 {
		return 0
	}
	matches := 0
	for _, w := range words {
		if _, ok := set[w]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(words))
}

// Domain matches are weighted higher than plain word matches, capped at 1.
func domainScore(words []string, set map[string]struct{}) float64 {
	return min(1.0, wordScore(words, set)*3)
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
