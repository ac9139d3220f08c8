package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrAgentNotFound is returned for operations on unknown agent IDs.
var ErrAgentNotFound = errors.New("agent not found")

// TransitionError reports a lifecycle transition the state machine does
// not admit.
type TransitionError struct {
	AgentID string
	From    models.AgentStatus
	To      models.AgentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("agent %s: invalid transition %s -> %s", e.AgentID, e.From, e.To)
}

// validNext lists the admitted transitions. ERROR is reachable from any
// non-terminal state and TERMINATED from everywhere, handled separately
// in Transition.
var validNext = map[models.AgentStatus][]models.AgentStatus{
	models.StatusRegistered:   {models.StatusInitializing},
	models.StatusInitializing: {models.StatusReady},
	models.StatusReady:        {models.StatusRunning},
	models.StatusRunning:      {models.StatusReady, models.StatusSuspended},
	models.StatusSuspended:    {models.StatusRunning},
	models.StatusError:        {},
	models.StatusTerminated:   {},
}

// Manager owns every agent's control block and enforces the lifecycle
// state machine. It is the only writer of agent status.
type Manager struct {
	mu     sync.RWMutex
	blocks map[string]*models.ControlBlock
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an empty agent manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blocks: make(map[string]*models.ControlBlock),
		logger: logger.With("component", "agent_manager"),
		now:    time.Now,
	}
}

// Register creates a control block in REGISTERED. Registering an
// existing ID is an error.
func (m *Manager) Register(agentID string, priority int) (*models.ControlBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blocks[agentID]; exists {
		return nil, fmt.Errorf("agent %s already registered", agentID)
	}
	now := m.now()
	cb := &models.ControlBlock{
		AgentID:      agentID,
		Status:       models.StatusRegistered,
		Priority:     priority,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.blocks[agentID] = cb
	m.logger.Info("agent registered", "agent_id", agentID, "priority", priority)
	copied := *cb
	return &copied, nil
}

// Transition moves an agent to a new status. TERMINATED destroys the
// control block; ERROR is admitted from any non-terminal state.
func (m *Manager) Transition(agentID string, to models.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(agentID, to)
}

func (m *Manager) transitionLocked(agentID string, to models.AgentStatus) error {
	cb, ok := m.blocks[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	from := cb.Status

	allowed := false
	switch to {
	case models.StatusTerminated:
		allowed = true
	case models.StatusError:
		allowed = !from.Terminal()
	default:
		for _, next := range validNext[from] {
			if next == to {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return &TransitionError{AgentID: agentID, From: from, To: to}
	}

	if to == models.StatusTerminated {
		delete(m.blocks, agentID)
		m.logger.Info("agent terminated", "agent_id", agentID, "from", from)
		return nil
	}

	cb.Status = to
	cb.LastActiveAt = m.now()
	m.logger.Debug("agent transition", "agent_id", agentID, "from", from, "to", to)
	return nil
}

// BeginDispatch moves a READY agent to RUNNING and records the task it
// is serving. Dispatching a non-READY agent fails, which keeps lane
// ordering honest under concurrent delivery.
func (m *Manager) BeginDispatch(agentID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.blocks[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if cb.Status != models.StatusReady {
		return &TransitionError{AgentID: agentID, From: cb.Status, To: models.StatusRunning}
	}
	cb.Status = models.StatusRunning
	cb.CurrentTaskID = taskID
	cb.LoopIteration = 0
	cb.LastActiveAt = m.now()
	return nil
}

// EndDispatch returns a RUNNING agent to READY and clears its task.
func (m *Manager) EndDispatch(agentID string, usage models.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.blocks[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if cb.Status != models.StatusRunning {
		return &TransitionError{AgentID: agentID, From: cb.Status, To: models.StatusReady}
	}
	cb.Status = models.StatusReady
	cb.CurrentTaskID = ""
	cb.Usage.Add(usage)
	cb.LastActiveAt = m.now()
	return nil
}

// Fail moves an agent to ERROR. Terminal agents are left alone.
func (m *Manager) Fail(agentID string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.blocks[agentID]
	if !ok || cb.Status.Terminal() {
		return
	}
	from := cb.Status
	cb.Status = models.StatusError
	cb.CurrentTaskID = ""
	cb.LastActiveAt = m.now()
	m.logger.Error("agent failed", "agent_id", agentID, "from", from, "reason", reason)
}

// RecordIteration bumps the loop iteration counter on the control block.
func (m *Manager) RecordIteration(agentID string, iteration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.blocks[agentID]; ok {
		cb.LoopIteration = iteration
		cb.LastActiveAt = m.now()
	}
}

// Status returns the agent's current status.
func (m *Manager) Status(agentID string) (models.AgentStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.blocks[agentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return cb.Status, nil
}

// Block returns a copy of the agent's control block.
func (m *Manager) Block(agentID string) (*models.ControlBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.blocks[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	copied := *cb
	return &copied, nil
}

// List returns copies of all control blocks.
func (m *Manager) List() []*models.ControlBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ControlBlock, 0, len(m.blocks))
	for _, cb := range m.blocks {
		copied := *cb
		out = append(out, &copied)
	}
	return out
}
