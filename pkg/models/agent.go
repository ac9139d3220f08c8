package models

import "time"

// AgentStatus is a state in the agent lifecycle machine.
//
// REGISTERED → INITIALIZING → READY → RUNNING (⇄ SUSPENDED) → TERMINATED.
// ERROR is a sink reachable from any non-terminal state.
type AgentStatus string

const (
	StatusRegistered   AgentStatus = "REGISTERED"
	StatusInitializing AgentStatus = "INITIALIZING"
	StatusReady        AgentStatus = "READY"
	StatusRunning      AgentStatus = "RUNNING"
	StatusSuspended    AgentStatus = "SUSPENDED"
	StatusTerminated   AgentStatus = "TERMINATED"
	StatusError        AgentStatus = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s AgentStatus) Terminal() bool {
	return s == StatusTerminated
}

// ControlBlock is the per-agent bookkeeping record. It is created when an
// agent registers, mutated only by the agent manager, and destroyed when
// the agent reaches TERMINATED.
type ControlBlock struct {
	AgentID       string      `json:"agent_id"`
	Status        AgentStatus `json:"status"`
	Priority      int         `json:"priority"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	LoopIteration int         `json:"loop_iteration"`
	Usage         Usage       `json:"usage"`
	CreatedAt     time.Time   `json:"created_at"`
	LastActiveAt  time.Time   `json:"last_active_at"`
}
