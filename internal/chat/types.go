package chat

// Message roles accepted by the backend /api/chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt 新会话的系统前导消息
// DefaultSystemPrompt is the system preamble seeding every new conversation.
const DefaultSystemPrompt = "You are a helpful assistant."

// Message is one chat turn entry. Insertion order is conversation order;
// the first entry of a conversation is always a system message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewConversation 返回仅含系统前导消息的初始序列
// NewConversation returns the initial one-element sequence holding the
// system preamble. A conversation sequence is never empty.
func NewConversation() []Message {
	return []Message{{Role: RoleSystem, Content: DefaultSystemPrompt}}
}

// Clone returns an independent copy of messages so callers can hold a
// snapshot without observing later appends.
func Clone(messages []Message) []Message {
	return append([]Message(nil), messages...)
}
