package models

import "time"

// Role indicates the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in an agent's conversation log.
//
// Invariants maintained by the conversation context:
//   - the log begins with at most one system message
//   - tool-role messages immediately follow the assistant message whose
//     tool call they answer
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls holds the calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall is a structured request from the LLM for the runtime to execute
// a tool on its behalf.
type ToolCall struct {
	// ID is opaque and provider-minted. Unique within one assistant turn.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the raw JSON argument string as delivered by the LLM.
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`

	// DurationMs is measured on a monotonic clock.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Usage tracks token consumption for a completion or a whole run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
