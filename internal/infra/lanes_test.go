package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLaneQueue_SerializesWithinLane(t *testing.T) {
	q := NewLaneQueue(0)
	key := LaneKey{AgentID: "a", ChannelID: "web", UserID: "u1"}

	var mu sync.Mutex
	var order []int
	release := make(chan struct{})

	err := q.Enqueue(context.Background(), key, func(ctx context.Context) {
		<-release
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err = q.Enqueue(context.Background(), key, func(ctx context.Context) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	close(release)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected FIFO order [1 2], got %v", order)
	}
}

func TestLaneQueue_LanesRunInParallel(t *testing.T) {
	q := NewLaneQueue(0)

	blockA := make(chan struct{})
	ranB := make(chan struct{})

	_ = q.Enqueue(context.Background(), LaneKey{AgentID: "a"}, func(ctx context.Context) {
		<-blockA
	})
	_ = q.Enqueue(context.Background(), LaneKey{AgentID: "b"}, func(ctx context.Context) {
		close(ranB)
	})

	select {
	case <-ranB:
	case <-time.After(2 * time.Second):
		t.Fatal("lane b should not be blocked by lane a")
	}
	close(blockA)
	q.Wait()
}

func TestLaneQueue_Backpressure(t *testing.T) {
	q := NewLaneQueue(2)
	key := LaneKey{AgentID: "a"}

	block := make(chan struct{})
	defer close(block)

	// First task occupies the lane; the next two fill the buffer.
	_ = q.Enqueue(context.Background(), key, func(ctx context.Context) { <-block })

	// Give the drainer a moment to pop the in-flight task.
	time.Sleep(50 * time.Millisecond)

	_ = q.Enqueue(context.Background(), key, func(ctx context.Context) {})
	_ = q.Enqueue(context.Background(), key, func(ctx context.Context) {})

	err := q.Enqueue(context.Background(), key, func(ctx context.Context) {})
	if !errors.Is(err, ErrBackpressure) {
		t.Errorf("expected ErrBackpressure, got %v", err)
	}
}

func TestLaneQueue_CanceledTasksSkipped(t *testing.T) {
	q := NewLaneQueue(0)
	key := LaneKey{AgentID: "a"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	_ = q.Enqueue(ctx, key, func(ctx context.Context) { ran = true })
	q.Wait()

	if ran {
		t.Error("expected canceled task to be skipped")
	}
}

func TestLaneKey_String(t *testing.T) {
	k := LaneKey{AgentID: "a", ChannelID: "web", UserID: "u1"}
	if k.String() != "a:web:u1" {
		t.Errorf("unexpected lane key form: %s", k.String())
	}
}
