package gateway

import (
	"log/slog"
	"sync"

	"github.com/haasonsaas/agentos/pkg/models"
)

// ResponseRouter maps correlation IDs to the WebSocket session awaiting
// the reply. Replies with no tracked correlation are dropped silently;
// late replies after a session closes must not error.
type ResponseRouter struct {
	mu       sync.RWMutex
	sessions map[string]string            // correlationID -> sessionID
	byClient map[string]map[string]bool   // sessionID -> correlationIDs
	sinks    map[string]func(*models.Envelope)
	logger   *slog.Logger
}

// NewResponseRouter creates an empty correlation table.
func NewResponseRouter(logger *slog.Logger) *ResponseRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseRouter{
		sessions: make(map[string]string),
		byClient: make(map[string]map[string]bool),
		sinks:    make(map[string]func(*models.Envelope)),
		logger:   logger.With("component", "response_router"),
	}
}

// Attach registers a session's outbound sink.
func (r *ResponseRouter) Attach(sessionID string, sink func(*models.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[sessionID] = sink
}

// Track associates a correlation ID with a session.
func (r *ResponseRouter) Track(correlationID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[correlationID] = sessionID
	set, ok := r.byClient[sessionID]
	if !ok {
		set = make(map[string]bool)
		r.byClient[sessionID] = set
	}
	set[correlationID] = true
}

// Untrack removes a single correlation.
func (r *ResponseRouter) Untrack(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID, ok := r.sessions[correlationID]; ok {
		delete(r.sessions, correlationID)
		if set := r.byClient[sessionID]; set != nil {
			delete(set, correlationID)
		}
	}
}

// CloseSession detaches a session and drops all of its correlations.
func (r *ResponseRouter) CloseSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, sessionID)
	for correlationID := range r.byClient[sessionID] {
		delete(r.sessions, correlationID)
	}
	delete(r.byClient, sessionID)
}

// Route delivers a reply to the session tracking its correlation ID.
// Unknown correlations are dropped without error. Terminal replies
// untrack the correlation.
func (r *ResponseRouter) Route(env *models.Envelope) bool {
	correlation := env.Correlation()

	r.mu.RLock()
	sessionID, tracked := r.sessions[correlation]
	sink := r.sinks[sessionID]
	r.mu.RUnlock()

	if !tracked || sink == nil {
		r.logger.Debug("dropping uncorrelated reply",
			"envelope_id", env.ID, "correlation_id", correlation)
		return false
	}

	sink(env)
	if env.Type.Terminal() {
		r.Untrack(correlation)
	}
	return true
}

// Tracked reports how many correlations are live, for metrics.
func (r *ResponseRouter) Tracked() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
