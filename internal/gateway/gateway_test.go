package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

func taskEnvelope(target string) *models.Envelope {
	env := models.NewEnvelope(models.EventTaskRequest, "gateway://test", target)
	env.Metadata = map[string]string{"channel_id": "web", "user_id": "u1"}
	return env
}

func TestInjectMessage_PublishesToDerivedSubject(t *testing.T) {
	conn := bus.NewMemoryBus()
	defer conn.Close()
	g := New(Config{}, conn, nil, nil)

	var mu sync.Mutex
	var got []*models.Envelope
	conn.Subscribe("agent.coder.inbox", "", func(ctx context.Context, env *models.Envelope) error {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
		return nil
	})

	env := taskEnvelope("agent://coder")
	if err := g.InjectMessage(context.Background(), env); err != nil {
		t.Fatalf("inject: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != env.ID {
		t.Fatalf("expected one delivery, got %v", got)
	}
}

func TestInjectMessage_DuplicateIsSilentSuccess(t *testing.T) {
	conn := bus.NewMemoryBus()
	defer conn.Close()
	g := New(Config{}, conn, nil, nil)

	var mu sync.Mutex
	delivered := 0
	conn.Subscribe("agent.coder.inbox", "", func(ctx context.Context, env *models.Envelope) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	env := taskEnvelope("agent://coder")
	env.IdempotencyKey = "retry-key"
	if err := g.InjectMessage(context.Background(), env); err != nil {
		t.Fatalf("first inject: %v", err)
	}

	retry := taskEnvelope("agent://coder")
	retry.IdempotencyKey = "retry-key"
	if err := g.InjectMessage(context.Background(), retry); err != nil {
		t.Fatalf("duplicate must succeed silently, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Errorf("duplicate must not be dispatched, got %d deliveries", delivered)
	}
}

func TestInjectMessage_InvalidTarget(t *testing.T) {
	conn := bus.NewMemoryBus()
	defer conn.Close()
	g := New(Config{}, conn, nil, nil)

	err := g.InjectMessage(context.Background(), taskEnvelope("ftp://nowhere"))
	if !errors.Is(err, bus.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestInjectMessage_InvalidEnvelope(t *testing.T) {
	conn := bus.NewMemoryBus()
	defer conn.Close()
	g := New(Config{}, conn, nil, nil)

	err := g.InjectMessage(context.Background(), &models.Envelope{Target: "agent://coder"})
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

// blockingConn blocks Publish until released, for backpressure tests.
type blockingConn struct {
	*bus.MemoryBus
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingConn) Publish(ctx context.Context, subject string, env *models.Envelope) error {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return nil
}

func TestInjectMessage_Backpressure(t *testing.T) {
	conn := &blockingConn{
		MemoryBus: bus.NewMemoryBus(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	defer close(conn.release)
	g := New(Config{LaneWatermark: 1}, conn, nil, nil)

	ctx := context.Background()
	go g.InjectMessage(ctx, taskEnvelope("agent://coder"))
	<-conn.started

	// Second message queues behind the in-flight publish.
	go g.InjectMessage(ctx, taskEnvelope("agent://coder"))

	// Keep injecting until the lane fills; short timeouts keep a
	// successfully queued inject from blocking the test.
	deadline := time.Now().Add(2 * time.Second)
	for {
		callCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		err := g.InjectMessage(callCtx, taskEnvelope("agent://coder"))
		cancel()
		if errors.Is(err, infra.ErrBackpressure) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected ErrBackpressure, got %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// failingConn always fails Publish, for breaker tests.
type failingConn struct {
	*bus.MemoryBus
}

func (c *failingConn) Publish(ctx context.Context, subject string, env *models.Envelope) error {
	return errors.New("bus unreachable")
}

func TestInjectMessage_CircuitOpens(t *testing.T) {
	conn := &failingConn{MemoryBus: bus.NewMemoryBus()}
	g := New(Config{}, conn, nil, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := g.InjectMessage(ctx, taskEnvelope("agent://coder")); err == nil {
			t.Fatal("expected publish failure")
		}
	}

	err := g.InjectMessage(ctx, taskEnvelope("agent://coder"))
	if !errors.Is(err, infra.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", err)
	}
}

func TestInjectMessage_ExpiredDedupeKeysAreSwept(t *testing.T) {
	conn := bus.NewMemoryBus()
	defer conn.Close()
	g := New(Config{DedupeTTL: 24 * time.Millisecond}, conn, nil, nil)
	defer g.Drain()

	env := taskEnvelope("agent://coder")
	env.IdempotencyKey = "short-lived"
	if err := g.InjectMessage(context.Background(), env); err != nil {
		t.Fatalf("inject: %v", err)
	}

	// The background sweeper must reclaim the key, not just let it
	// expire logically.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.dedupe.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expired key still tracked after TTL, %d entries", g.dedupe.Len())
}
