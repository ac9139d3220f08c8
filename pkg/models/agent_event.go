package models

import "time"

// AgentEventType identifies events emitted by the agent loop.
type AgentEventType string

const (
	AgentEventAssistantMessage AgentEventType = "assistant_message"
	AgentEventToolResult       AgentEventType = "tool_result"
	AgentEventToolBlocked      AgentEventType = "tool_blocked"
	AgentEventMaxTurnsReached  AgentEventType = "max_turns_reached"
	AgentEventError            AgentEventType = "error"
	AgentEventDone             AgentEventType = "done"
)

// AgentEvent is a single observable step of an agent run. The loop emits
// events in strict order; the orchestrator and gateway translate them into
// task.response envelopes on the reply path.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	AgentID   string         `json:"agent_id"`
	SessionID string         `json:"session_id,omitempty"`
	Iteration int            `json:"iteration,omitempty"`

	// Text carries assistant output for assistant_message events.
	Text string `json:"text,omitempty"`

	// ToolCall and ToolResult are set on tool events.
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Reason carries the veto reason for tool_blocked events.
	Reason string `json:"reason,omitempty"`

	// Error is the human-readable failure for error events.
	Error string `json:"error,omitempty"`

	Usage     *Usage    `json:"usage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
