package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry manages hook registrations and event dispatch.
type Registry struct {
	handlers map[Event][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Event][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource sets the handler source (plugin name, subsystem, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds a handler for an event. Returns the registration ID for
// later unregistration.
func (r *Registry) Register(event Event, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Event:    event,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = append(r.handlers[event], reg)
	r.byID[reg.ID] = reg

	// Stable sort keeps registration order among equal priorities.
	sort.SliceStable(r.handlers[event], func(i, j int) bool {
		return r.handlers[event][i].Priority < r.handlers[event][j].Priority
	})

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"event", event,
		"name", reg.Name,
		"priority", reg.Priority)

	return reg.ID
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)

	list := r.handlers[reg.Event]
	for i, candidate := range list {
		if candidate.ID == id {
			r.handlers[reg.Event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// Count returns the number of handlers registered for an event.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Fire invokes all handlers for the event serially in priority order.
// Each handler's non-nil return value becomes the input to the next
// handler; the final value is returned to the caller.
//
// A *BlockError from any handler propagates unchanged so the caller can
// treat it as a veto. Any other handler error stops the chain and is
// wrapped with the handler's identity.
func (r *Registry) Fire(ctx context.Context, event Event, hc *HookContext) (*HookContext, error) {
	r.mu.RLock()
	regs := make([]*Registration, len(r.handlers[event]))
	copy(regs, r.handlers[event])
	r.mu.RUnlock()

	if hc == nil {
		hc = &HookContext{Event: event}
	}
	hc.Event = event

	current := hc
	for _, reg := range regs {
		next, err := reg.Handler(ctx, current)
		if err != nil {
			var block *BlockError
			if errors.As(err, &block) {
				return current, err
			}
			return current, fmt.Errorf("hook %s (%s) failed: %w", event, reg.Name, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}
