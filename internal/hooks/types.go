// Package hooks provides ordered, chaining lifecycle hooks for the agent
// runtime. Handlers fire serially in priority order and may replace the
// hook context seen by later handlers; a handler can veto a tool call by
// returning a block error.
package hooks

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Event identifies a lifecycle point handlers can attach to.
type Event string

const (
	EventInput              Event = "input"
	EventBeforeAgentStart   Event = "before_agent_start"
	EventAgentStart         Event = "agent_start"
	EventTurnStart          Event = "turn_start"
	EventContextAssemble    Event = "context_assemble"
	EventToolCall           Event = "tool_call"
	EventToolExecutionStart Event = "tool_execution_start"
	EventToolExecutionEnd   Event = "tool_execution_end"
	EventToolResult         Event = "tool_result"
	EventTurnEnd            Event = "turn_end"
	EventAgentEnd           Event = "agent_end"
	EventMemoryFlush        Event = "memory_flush"
	EventSessionCompact     Event = "session_compact"
)

// HookContext is the value threaded through a handler chain. Each handler
// receives the previous handler's output and may return a replacement.
type HookContext struct {
	Event     Event
	AgentID   string
	SessionID string
	Iteration int

	// Messages carries the conversation for context_assemble,
	// memory_flush, and session_compact events. A context_assemble
	// handler appends sections by returning a new message list.
	Messages []models.Message

	// ToolCall is set for tool_call / tool_execution_* events.
	ToolCall *models.ToolCall

	// ToolResult is set for tool_execution_end and tool_result events.
	ToolResult *models.ToolResult

	// Data holds event-specific extras.
	Data map[string]any
}

// Handler processes a hook event. Returning a non-nil context replaces
// the chained value; returning nil leaves it unchanged.
type Handler func(ctx context.Context, hc *HookContext) (*HookContext, error)

// Priority determines handler order; lower runs first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// BlockError vetoes the operation that fired the hook. The agent loop
// converts it into a synthetic tool result instead of failing the run.
type BlockError struct {
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("blocked by hook: %s", e.Reason)
}

// Block builds a BlockError with the given reason.
func Block(reason string) error {
	return &BlockError{Reason: reason}
}

// Registration represents a registered hook handler.
type Registration struct {
	// ID uniquely identifies the registration for later removal.
	ID string

	// Event is the lifecycle point this handler listens on.
	Event Event

	// Handler is the function to call.
	Handler Handler

	// Priority determines call order (lower = earlier).
	Priority Priority

	// Name labels the handler for debugging.
	Name string

	// Source names the subsystem that registered the handler.
	Source string
}
