package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

// scriptedEntry answers every dispatch with a fixed assistant text.
type scriptedEntry struct {
	mu       sync.Mutex
	text     string
	fail     error
	requests []*models.Envelope
}

func (e *scriptedEntry) Status() (models.AgentStatus, error) {
	return models.StatusReady, nil
}

func (e *scriptedEntry) Dispatch(ctx context.Context, env *models.Envelope) (*infra.EventQueue[models.AgentEvent], error) {
	e.mu.Lock()
	e.requests = append(e.requests, env)
	e.mu.Unlock()

	queue := infra.NewEventQueue[models.AgentEvent]()
	if e.fail != nil {
		queue.Fail(e.fail)
		return queue, nil
	}
	queue.Push(models.AgentEvent{Type: models.AgentEventAssistantMessage, Text: e.text})
	queue.Complete()
	return queue, nil
}

func (e *scriptedEntry) lastRequest(t *testing.T) *models.Envelope {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		t.Fatal("no dispatches recorded")
	}
	return e.requests[len(e.requests)-1]
}

func (e *scriptedEntry) requestText(t *testing.T) string {
	t.Helper()
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.lastRequest(t).Data, &payload); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return payload.Text
}

func TestRegistry_ResolveLocal(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	entry := &scriptedEntry{text: "hi"}
	reg.RegisterLocal("coder", entry)

	got, err := reg.Resolve("coder")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != entry {
		t.Error("expected the registered entry")
	}
}

func TestRegistry_UnknownWithoutBus(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	if _, err := reg.Resolve("ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestRegistry_UnknownResolvesRemote(t *testing.T) {
	mb := bus.NewMemoryBus()
	reg := NewRegistry(RegistryConfig{Bus: mb})

	entry, err := reg.Resolve("remote-worker")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := entry.(*remoteAgent); !ok {
		t.Fatalf("expected remote stub, got %T", entry)
	}
}

// startEchoWorker simulates a remote agent: it consumes its inbox and
// streams a response followed by task.done to the replyTo subject.
func startEchoWorker(t *testing.T, mb *bus.MemoryBus, agentID, response string) {
	t.Helper()
	sub, err := mb.Subscribe(bus.AgentInbox(agentID), "workers", func(ctx context.Context, env *models.Envelope) error {
		ev := models.AgentEvent{Type: models.AgentEventAssistantMessage, AgentID: agentID, Text: response}
		reply, _ := env.Reply(models.EventTaskResponse, "agent://"+agentID, ev)
		mb.PublishCore(ctx, env.ReplyTo, reply)

		done, _ := env.Reply(models.EventTaskDone, "agent://"+agentID, nil)
		mb.PublishCore(ctx, env.ReplyTo, done)
		return nil
	})
	if err != nil {
		t.Fatalf("worker subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
}

func TestRemoteDispatch_StreamsUntilDone(t *testing.T) {
	mb := bus.NewMemoryBus()
	startEchoWorker(t, mb, "researcher", "findings attached")

	reg := NewRegistry(RegistryConfig{Bus: mb})
	entry, _ := reg.Resolve("researcher")

	env := models.NewEnvelope(models.EventTaskRequest, "agent://coder", "agent://researcher")
	env.Data = json.RawMessage(`{"text":"investigate"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue, err := entry.Dispatch(ctx, env)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ev, err := queue.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Text != "findings attached" {
		t.Errorf("unexpected event %+v", ev)
	}
	if _, err := queue.Next(ctx); !errors.Is(err, infra.ErrQueueComplete) {
		t.Fatalf("expected completion, got %v", err)
	}
}

func TestRemoteDispatch_ErrorEnvelopeFailsQueue(t *testing.T) {
	mb := bus.NewMemoryBus()
	sub, _ := mb.Subscribe(bus.AgentInbox("flaky"), "workers", func(ctx context.Context, env *models.Envelope) error {
		fail, _ := env.Reply(models.EventTaskError, "agent://flaky", map[string]string{"error": "model quota exhausted"})
		mb.PublishCore(ctx, env.ReplyTo, fail)
		return nil
	})
	defer sub.Unsubscribe()

	reg := NewRegistry(RegistryConfig{Bus: mb})
	entry, _ := reg.Resolve("flaky")

	env := models.NewEnvelope(models.EventTaskRequest, "agent://coder", "agent://flaky")
	env.Data = json.RawMessage(`{"text":"try"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue, err := entry.Dispatch(ctx, env)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := queue.Next(ctx); err == nil || err.Error() != "model quota exhausted" {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestRemoteDispatch_TimesOutWithoutWorker(t *testing.T) {
	mb := bus.NewMemoryBus()
	reg := NewRegistry(RegistryConfig{Bus: mb, DispatchTimeout: 50 * time.Millisecond})
	entry, _ := reg.Resolve("absent")

	env := models.NewEnvelope(models.EventTaskRequest, "agent://coder", "agent://absent")
	env.Data = json.RawMessage(`{"text":"anyone there"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue, err := entry.Dispatch(ctx, env)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := queue.Next(ctx); !errors.Is(err, ErrDispatchTimeout) {
		t.Fatalf("expected ErrDispatchTimeout, got %v", err)
	}
}
