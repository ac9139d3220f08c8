// Package tools is the single source of truth for tool definitions and
// handlers. Builtin, MCP, plugin, memory, and orchestration tools all
// register here; the policy engine decides which subset an agent sees.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentos/pkg/models"
)

var (
	// ErrToolConflict is returned when a tool name is already registered.
	ErrToolConflict = errors.New("tool name already registered")

	// ErrToolNotFound is returned when no tool has the requested name.
	ErrToolNotFound = errors.New("tool not found")
)

// Handler executes a tool with already-parsed JSON arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Entry binds a tool definition to its handler and provenance.
type Entry struct {
	Definition models.ToolDefinition
	Handler    Handler
	Source     models.ToolSource

	// MCPServer names the managing MCP client for source=mcp entries.
	MCPServer string
}

// Registry holds all registered tools. Reads dominate; mutations happen
// at startup and on plugin load/unload.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a tool. Names are globally unique across sources.
func (r *Registry) Register(entry *Entry) error {
	if entry == nil || entry.Definition.Name == "" {
		return fmt.Errorf("invalid tool entry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := entry.Definition.Name
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolConflict, name)
	}
	r.entries[name] = entry
	r.order = append(r.order, name)
	return nil
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Remove deletes a tool registration (plugin unload).
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns all entries in registration order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
