package llm

import "github.com/haasonsaas/agentos/pkg/models"

// charsPerToken is the approximate character-to-token ratio used for
// estimation when a provider offers nothing better.
const charsPerToken = 4

// messageOverheadTokens accounts for role and framing tokens per message.
const messageOverheadTokens = 4

// EstimateTokens approximates the token footprint of a message list.
func EstimateTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		chars := len(msg.Content)
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.Arguments)
		}
		total += (chars+charsPerToken-1)/charsPerToken + messageOverheadTokens
	}
	return total
}
