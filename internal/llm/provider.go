// Package llm abstracts streaming LLM providers behind a unified chunk
// protocol and resolves model profiles for agents.
package llm

import (
	"context"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Finish reasons reported by providers.
const (
	FinishStop      = "stop"
	FinishEndTurn   = "end_turn"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// Request contains the parameters for one streamed completion.
type Request struct {
	// Model specifies the provider model. Empty uses the provider default.
	Model string `json:"model"`

	// Messages is the assembled conversation, system prompt included.
	Messages []models.Message `json:"messages"`

	// Tools are the policy-filtered tool definitions offered to the model.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// MaxTokens bounds the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ToolCallDelta is a partial tool call. Deltas with the same ID append to
// the arguments; a delta may also supply the name if previously empty.
type ToolCallDelta struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Chunk is one unit of a streamed completion: a text delta, a tool-call
// delta, a usage report, or the done marker.
type Chunk struct {
	TextDelta     string         `json:"text_delta,omitempty"`
	ToolCallDelta *ToolCallDelta `json:"tool_call_delta,omitempty"`
	Usage         *models.Usage  `json:"usage,omitempty"`
	Done          bool           `json:"done,omitempty"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Err           error          `json:"-"`
}

// Provider is a streaming LLM backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Stream sends the request and returns a channel of chunks. The
	// channel closes after a Done or error chunk. Cancellation of ctx
	// terminates the stream.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// ContextWindow returns the model's context window in tokens.
	ContextWindow(model string) int

	// CountTokens estimates the token footprint of the messages.
	CountTokens(messages []models.Message) int
}
