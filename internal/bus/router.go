// Package bus connects the gateway, agents, and orchestrator over NATS
// JetStream. Tasks travel on a durable workqueue per agent inbox; events
// fan out on an interest stream; replies use private core inboxes.
package bus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTarget is returned for target URIs with an unknown scheme.
var ErrInvalidTarget = errors.New("invalid target")

// Subject prefixes and stream names.
const (
	TaskStream  = "AGENT_TASKS"
	EventStream = "AGENT_EVENTS"

	taskSubjectPattern  = "agent.*.inbox"
	eventSubjectPattern = "events.agent.>"
)

// AgentInbox returns the durable workqueue subject for an agent.
func AgentInbox(agentID string) string {
	return fmt.Sprintf("agent.%s.inbox", agentID)
}

// AgentEvents returns the broadcast subject for a named event topic.
func AgentEvents(topic string) string {
	return fmt.Sprintf("events.agent.%s", topic)
}

// ParseTarget derives the bus subject from a scheme://path target URI.
// agent targets route to the agent's inbox workqueue, topic targets to
// the event stream; any other scheme fails.
func ParseTarget(uri string) (string, error) {
	scheme, path, ok := strings.Cut(uri, "://")
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, uri)
	}
	switch scheme {
	case "agent":
		return AgentInbox(path), nil
	case "topic":
		return AgentEvents(path), nil
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidTarget, scheme)
	}
}
