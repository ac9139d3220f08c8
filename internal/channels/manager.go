package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Injector is the gateway surface the manager publishes through.
type Injector interface {
	InjectMessage(ctx context.Context, env *models.Envelope) error
}

// ReplyTracker correlates replies back to a channel session.
type ReplyTracker interface {
	Attach(sessionID string, sink func(*models.Envelope))
	Track(correlationID, sessionID string)
	CloseSession(sessionID string)
}

// Manager runs channel adapters, resolves bindings for inbound
// messages, and bridges replies back to the source platform.
type Manager struct {
	resolver *Resolver
	injector Injector
	replies  ReplyTracker
	logger   *slog.Logger

	mu       sync.Mutex
	adapters map[string]Adapter
	sessions map[string]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager creates a channel manager.
func NewManager(resolver *Resolver, injector Injector, replies ReplyTracker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolver: resolver,
		injector: injector,
		replies:  replies,
		logger:   logger.With("component", "channels"),
		adapters: make(map[string]Adapter),
		sessions: make(map[string]bool),
	}
}

// Register adds an adapter before Start.
func (m *Manager) Register(adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[adapter.Type()] = adapter
}

// Start connects every adapter and begins pumping inbound messages.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mu.Lock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.Unlock()

	for _, adapter := range adapters {
		if err := adapter.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start adapter %s: %w", adapter.Type(), err)
		}
		m.wg.Add(1)
		go m.pump(runCtx, adapter)
		m.logger.Info("adapter started", "channel", adapter.Type())
	}
	return nil
}

// Stop halts adapters in registration-independent order and waits for
// the pumps to drain.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.Unlock()

	var lastErr error
	for _, adapter := range adapters {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
			m.logger.Warn("adapter stop failed", "channel", adapter.Type(), "error", err)
		}
	}
	m.wg.Wait()
	return lastErr
}

func (m *Manager) pump(ctx context.Context, adapter Adapter) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-adapter.Messages():
			if !ok {
				return
			}
			m.handleInbound(ctx, adapter, msg)
		}
	}
}

func (m *Manager) handleInbound(ctx context.Context, adapter Adapter, msg *InboundMessage) {
	binding := m.resolver.Resolve(MatchContext{
		Peer:    msg.Peer,
		Channel: msg.Channel,
		Team:    msg.Team,
		Account: msg.Account,
	})
	if binding == nil {
		m.logger.Warn("no binding for inbound message",
			"channel", msg.Channel, "peer", msg.Peer)
		return
	}

	data, err := json.Marshal(map[string]string{"text": msg.Text})
	if err != nil {
		return
	}

	env := models.NewEnvelope(models.EventTaskRequest,
		fmt.Sprintf("channel://%s/%s", msg.Channel, msg.Peer),
		"agent://"+binding.AgentID)
	env.Data = data
	env.Metadata = map[string]string{
		"channel_id": msg.Channel,
		"user_id":    msg.Peer,
	}
	if msg.Team != "" {
		env.Metadata["team"] = msg.Team
	}
	if msg.Account != "" {
		env.Metadata["account"] = msg.Account
	}
	for k, v := range msg.Metadata {
		env.Metadata[k] = v
	}

	sessionID := fmt.Sprintf("channel:%s:%s", msg.Channel, msg.Peer)
	m.ensureSession(sessionID, adapter, msg)
	m.replies.Track(env.Correlation(), sessionID)

	if err := m.injector.InjectMessage(ctx, env); err != nil {
		m.logger.Warn("inject failed",
			"channel", msg.Channel, "agent_id", binding.AgentID, "error", err)
		adapter.Send(ctx, &OutboundMessage{
			Channel: msg.Channel,
			Peer:    msg.Peer,
			Text:    "Message could not be delivered: " + err.Error(),
			IsError: true,
		})
	}
}

// ensureSession attaches a reply sink once per (channel, peer) pair.
func (m *Manager) ensureSession(sessionID string, adapter Adapter, msg *InboundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] {
		return
	}
	m.sessions[sessionID] = true

	channel, peer := msg.Channel, msg.Peer
	m.replies.Attach(sessionID, func(env *models.Envelope) {
		out := decodeReply(env, channel, peer)
		if out == nil {
			return
		}
		if err := adapter.Send(context.Background(), out); err != nil {
			m.logger.Warn("reply send failed", "channel", channel, "peer", peer, "error", err)
		}
	})
}

func decodeReply(env *models.Envelope, channel, peer string) *OutboundMessage {
	switch env.Type {
	case models.EventTaskResponse:
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Text == "" {
			return nil
		}
		return &OutboundMessage{Channel: channel, Peer: peer, Text: payload.Text}
	case models.EventTaskError:
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Error == "" {
			return nil
		}
		return &OutboundMessage{Channel: channel, Peer: peer, Text: payload.Error, IsError: true}
	default:
		return nil
	}
}
