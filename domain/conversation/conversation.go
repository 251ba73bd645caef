// Package conversation provides conversation value types shared across the gateway.
// All functions are pure - no side effects.
package conversation

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn (immutable value type).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Language is a coarse language tag used for model routing.
type Language string

const (
	LanguageArabic  Language = "ar"
	LanguageEnglish Language = "en"
	LanguageAuto    Language = "auto"
)

// Context carries per-conversation state. The caller owns it; the gateway
// appends the assistant reply and updates the token counter, nothing else.
type Context struct {
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	Language        Language  `json:"language"`
	History         []Message `json:"history"`
	TotalTokensUsed int       `json:"total_tokens_used"`
}

// AddMessage appends a message to the conversation history.
func (c *Context) AddMessage(m Message) {
	c.History = append(c.History, m)
}

// RecentMessages returns the last n messages of the history.
func (c *Context) RecentMessages(n int) []Message {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// EstimateTokens approximates the token count of the history (~4 chars/token).
func (c *Context) EstimateTokens() int {
	total := 0
	for _, m := range c.History {
		total += len(m.Content)
	}
	return total / 4
}

// EstimateMessageTokens approximates the token count of a message slice.
// This is a PURE function.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}
