// Package orchestrator coordinates work across agents: a registry of
// local and remote agents, request/reply dispatch over the bus, and the
// coordination tools (spawn, send, broadcast, pipeline, supervisor)
// exposed to agents themselves.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

const defaultDispatchTimeout = 30 * time.Second

// ErrUnknownAgent is returned when an agent is neither local nor
// reachable over the bus.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrDispatchTimeout is returned when a dispatched task produces no
// terminal event within the deadline.
var ErrDispatchTimeout = errors.New("dispatch timed out")

// Entry is one dispatchable agent, local or remote. Dispatch returns an
// event queue the caller drains; the queue completes on task success and
// fails on task error or timeout.
type Entry interface {
	Status() (models.AgentStatus, error)
	Dispatch(ctx context.Context, env *models.Envelope) (*infra.EventQueue[models.AgentEvent], error)
}

// Registry resolves agent IDs to dispatch entries. Local agents are
// registered explicitly; any other ID resolves to a remote stub that
// speaks request/reply over the bus, so callers never need to know where
// an agent runs.
type Registry struct {
	mu      sync.RWMutex
	local   map[string]Entry
	conn    bus.Conn
	timeout time.Duration
	logger  *slog.Logger
}

// RegistryConfig wires the registry's collaborators.
type RegistryConfig struct {
	// Bus enables remote dispatch. Nil restricts the registry to local
	// agents.
	Bus bus.Conn

	// DispatchTimeout bounds remote request/reply exchanges. <= 0 uses
	// 30 seconds.
	DispatchTimeout time.Duration

	Logger *slog.Logger
}

// NewRegistry creates an agent registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		local:   make(map[string]Entry),
		conn:    cfg.Bus,
		timeout: timeout,
		logger:  logger.With("component", "orchestrator"),
	}
}

// RegisterLocal adds a local agent. Re-registering an ID replaces the
// previous entry.
func (r *Registry) RegisterLocal(agentID string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[agentID] = entry
}

// UnregisterLocal removes a local agent.
func (r *Registry) UnregisterLocal(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, agentID)
}

// Resolve returns the dispatch entry for an agent. Unknown IDs resolve
// to a remote stub when a bus is available.
func (r *Registry) Resolve(agentID string) (Entry, error) {
	r.mu.RLock()
	entry, ok := r.local[agentID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}
	if r.conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return &remoteAgent{
		agentID: agentID,
		conn:    r.conn,
		timeout: r.timeout,
		logger:  r.logger.With("agent_id", agentID, "mode", "remote"),
	}, nil
}

// LocalIDs lists the registered local agents.
func (r *Registry) LocalIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.local))
	for id := range r.local {
		out = append(out, id)
	}
	return out
}
