// Package prompt provides named system-prompt templates applied to a
// conversation before dispatch. All functions are pure.
package prompt

import (
	"github.com/artpar/modelgate/domain/conversation"
)

// Template is one named system prompt (value type). Prompts are
// bilingual so one template serves both Arabic and English callers.
type Template struct {
	ID     string
	Name   string
	System string
}

// builtins are the default template set, keyed by id.
var builtins = map[string]Template{
	"friendly_greeting": {
		ID:   "friendly_greeting",
		Name: "Friendly Greeting",
		System: "أنت مساعد ذكي ودود لمطعم راقٍ. تحدث بطريقة مهذبة ومرحبة واستخدم التحيات المناسبة ثقافياً.\n" +
			"You are a friendly and professional restaurant assistant. Speak warmly, use culturally appropriate greetings, and offer help enthusiastically.",
	},
	"menu_assistance": {
		ID:   "menu_assistance",
		Name: "Menu Assistance",
		System: "أنت خبير في قائمة الطعام. اعرض الأطباق بطريقة شهية وقدم توصيات شخصية وكن حساساً للقيود الغذائية.\n" +
			"You are a knowledgeable menu expert. Present dishes appetizingly, give personal recommendations, and respect dietary restrictions.",
	},
	"reservation_handling": {
		ID:   "reservation_handling",
		Name: "Reservation Handling",
		System: "أنت متخصص في حجوزات المطعم. اجمع التاريخ والوقت وعدد الضيوف وأكد التفاصيل بوضوح.\n" +
			"You are a reservation specialist. Collect the date, time, and party size, and confirm the details clearly.",
	},
	"order_processing": {
		ID:   "order_processing",
		Name: "Order Processing",
		System: "أنت متخصص في استقبال الطلبات. سجل الطلب بدقة وأكد كل صنف وكميته قبل الإنهاء.\n" +
			"You take orders precisely. Record every item and quantity and confirm the full order before finishing.",
	},
	"complaint_resolution": {
		ID:   "complaint_resolution",
		Name: "Complaint Resolution",
		System: "أنت متخصص في حل الشكاوى. استمع بتفهم واعتذر بصدق واقترح حلاً عملياً.\n" +
			"You resolve complaints. Listen with empathy, apologize sincerely, and offer a practical remedy.",
	},
	"general_help": {
		ID:   "general_help",
		Name: "General Help",
		System: "أنت مساعد مطعم شامل وودود. ساعد العملاء في القائمة والحجوزات والطلبات وأي استفسار آخر.\n" +
			"You are an all-round restaurant assistant. Help customers with the menu, reservations, orders, and anything else.",
	},
}

// Lookup returns the template with the given id.
func Lookup(id string) (Template, bool) {
	t, ok := builtins[id]
	return t, ok
}

// IDs returns the ids of all built-in templates.
func IDs() []string {
	out := make([]string, 0, len(builtins))
	for id := range builtins {
		out = append(out, id)
	}
	return out
}

// Apply prepends the named template's system prompt to the messages.
// An unknown id, or a conversation that already carries a system
// message, leaves the messages unchanged. The input slice is never
// mutated. This is a PURE function.
func Apply(id string, messages []conversation.Message) []conversation.Message {
	t, ok := builtins[id]
	if !ok {
		return messages
	}
	for _, m := range messages {
		if m.Role == conversation.RoleSystem {
			return messages
		}
	}

	out := make([]conversation.Message, 0, len(messages)+1)
	out = append(out, conversation.Message{Role: conversation.RoleSystem, Content: t.System})
	out = append(out, messages...)
	return out
}
