package openai

import (
	"github.com/roleplaylabs/drill-core/core/llms"
	goopenai "github.com/sashabaranov/go-openai"
)

func toOpenAIMessages(instructions string, msgs []llms.Message) []goopenai.ChatCompletionMessage {
	messages := []goopenai.ChatCompletionMessage{}
	if instructions != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}

	for _, msg := range msgs {
		role := goopenai.ChatMessageRoleUser
		switch msg.Role {
		case llms.MessageRoleSystem:
			if instructions != "" {
				continue
			}
			role = goopenai.ChatMessageRoleSystem
		case llms.MessageRoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return messages
}
