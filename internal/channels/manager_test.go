package channels

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentos/pkg/models"
)

type fakeAdapter struct {
	typ     string
	inbound chan *InboundMessage

	mu   sync.Mutex
	sent []*OutboundMessage
}

func newFakeAdapter(typ string) *fakeAdapter {
	return &fakeAdapter{typ: typ, inbound: make(chan *InboundMessage, 8)}
}

func (a *fakeAdapter) Type() string                    { return a.typ }
func (a *fakeAdapter) Start(ctx context.Context) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error  { close(a.inbound); return nil }

func (a *fakeAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fakeAdapter) Messages() <-chan *InboundMessage { return a.inbound }

func (a *fakeAdapter) sentMessages() []*OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*OutboundMessage(nil), a.sent...)
}

type fakeInjector struct {
	mu   sync.Mutex
	envs []*models.Envelope
	err  error
}

func (i *fakeInjector) InjectMessage(ctx context.Context, env *models.Envelope) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.envs = append(i.envs, env)
	return nil
}

func (i *fakeInjector) injected() []*models.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*models.Envelope(nil), i.envs...)
}

type fakeTracker struct {
	mu      sync.Mutex
	sinks   map[string]func(*models.Envelope)
	tracked map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		sinks:   make(map[string]func(*models.Envelope)),
		tracked: make(map[string]string),
	}
}

func (t *fakeTracker) Attach(sessionID string, sink func(*models.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks[sessionID] = sink
}

func (t *fakeTracker) Track(correlationID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked[correlationID] = sessionID
}

func (t *fakeTracker) CloseSession(sessionID string) {}

func (t *fakeTracker) deliver(env *models.Envelope) {
	t.mu.Lock()
	sessionID := t.tracked[env.Correlation()]
	sink := t.sinks[sessionID]
	t.mu.Unlock()
	if sink != nil {
		sink(env)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_InboundResolvesAndInjects(t *testing.T) {
	resolver := NewResolver()
	resolver.Add(&Binding{AgentID: "coder", Channel: "slack"})

	injector := &fakeInjector{}
	tracker := newFakeTracker()
	adapter := newFakeAdapter("slack")

	m := NewManager(resolver, injector, tracker, nil)
	m.Register(adapter)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	adapter.inbound <- &InboundMessage{
		Channel: "slack", Peer: "alice", Team: "core", Text: "deploy please",
	}

	waitFor(t, func() bool { return len(injector.injected()) == 1 })
	env := injector.injected()[0]
	if env.Target != "agent://coder" || env.Type != models.EventTaskRequest {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Metadata["channel_id"] != "slack" || env.Metadata["user_id"] != "alice" || env.Metadata["team"] != "core" {
		t.Errorf("unexpected metadata %v", env.Metadata)
	}
	var payload struct {
		Text string `json:"text"`
	}
	json.Unmarshal(env.Data, &payload)
	if payload.Text != "deploy please" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestManager_ReplyFlowsBackToAdapter(t *testing.T) {
	resolver := NewResolver()
	resolver.Add(&Binding{AgentID: "coder"})

	injector := &fakeInjector{}
	tracker := newFakeTracker()
	adapter := newFakeAdapter("slack")

	m := NewManager(resolver, injector, tracker, nil)
	m.Register(adapter)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	adapter.inbound <- &InboundMessage{Channel: "slack", Peer: "alice", Text: "hi"}
	waitFor(t, func() bool { return len(injector.injected()) == 1 })
	request := injector.injected()[0]

	data, _ := json.Marshal(map[string]string{"text": "done!"})
	tracker.deliver(&models.Envelope{
		ID:            models.NewID(),
		Type:          models.EventTaskResponse,
		CorrelationID: request.Correlation(),
		Data:          data,
	})

	waitFor(t, func() bool { return len(adapter.sentMessages()) == 1 })
	out := adapter.sentMessages()[0]
	if out.Text != "done!" || out.Peer != "alice" || out.IsError {
		t.Errorf("unexpected outbound %+v", out)
	}
}

func TestManager_NoBindingDropsMessage(t *testing.T) {
	resolver := NewResolver()
	injector := &fakeInjector{}
	tracker := newFakeTracker()
	adapter := newFakeAdapter("slack")

	m := NewManager(resolver, injector, tracker, nil)
	m.Register(adapter)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	adapter.inbound <- &InboundMessage{Channel: "slack", Peer: "alice", Text: "hi"}
	time.Sleep(50 * time.Millisecond)
	if len(injector.injected()) != 0 {
		t.Error("unbound message must not be injected")
	}
}
