package llms

// Message is a single message in a chat-completion request.
type Message struct {
	Role    MessageRole
	Content string
}

// Response is a single complete response from an LLM.
type Response struct {
	Content      string
	FinishReason string
}

// MessageRole describes who a message is from.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)
