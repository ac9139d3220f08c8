package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_FirePriorityOrder(t *testing.T) {
	r := NewRegistry(nil)

	var order []string
	r.Register(EventTurnStart, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		order = append(order, "low")
		return nil, nil
	}, WithPriority(PriorityLow), WithName("low"))
	r.Register(EventTurnStart, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		order = append(order, "high")
		return nil, nil
	}, WithPriority(PriorityHigh), WithName("high"))
	r.Register(EventTurnStart, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		order = append(order, "normal")
		return nil, nil
	}, WithName("normal"))

	_, err := r.Fire(context.Background(), EventTurnStart, nil)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	want := []string{"high", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRegistry_FireChainsContext(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(EventContextAssemble, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		out := *hc
		out.Data = map[string]any{"first": true}
		return &out, nil
	}, WithPriority(PriorityHigh))
	r.Register(EventContextAssemble, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		if hc.Data == nil || hc.Data["first"] != true {
			t.Error("second handler should see first handler's output")
		}
		out := *hc
		out.Data["second"] = true
		return &out, nil
	})

	final, err := r.Fire(context.Background(), EventContextAssemble, &HookContext{})
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if final.Data["second"] != true {
		t.Error("final context should be the last handler's return value")
	}
}

func TestRegistry_FireNilReturnKeepsContext(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EventTurnEnd, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		return nil, nil
	})

	in := &HookContext{AgentID: "a"}
	out, err := r.Fire(context.Background(), EventTurnEnd, in)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if out != in {
		t.Error("nil handler return should leave the context unchanged")
	}
}

func TestRegistry_BlockErrorPropagatesUnchanged(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(EventToolCall, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		return nil, Block("tool denied by policy")
	}, WithPriority(PriorityHigh))

	called := false
	r.Register(EventToolCall, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		called = true
		return nil, nil
	}, WithPriority(PriorityLow))

	_, err := r.Fire(context.Background(), EventToolCall, &HookContext{})
	var block *BlockError
	if !errors.As(err, &block) {
		t.Fatalf("expected BlockError, got %v", err)
	}
	if block.Reason != "tool denied by policy" {
		t.Errorf("unexpected reason %q", block.Reason)
	}
	if called {
		t.Error("block should stop the chain")
	}
}

func TestRegistry_GenericErrorStopsChain(t *testing.T) {
	r := NewRegistry(nil)

	boom := errors.New("boom")
	r.Register(EventTurnStart, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		return nil, boom
	})

	_, err := r.Fire(context.Background(), EventTurnStart, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	var block *BlockError
	if errors.As(err, &block) {
		t.Error("generic error must not read as a block")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)

	called := false
	id := r.Register(EventAgentEnd, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
		called = true
		return nil, nil
	})

	if !r.Unregister(id) {
		t.Fatal("expected unregister to find the handler")
	}
	if r.Unregister(id) {
		t.Fatal("double unregister should report false")
	}

	_, _ = r.Fire(context.Background(), EventAgentEnd, nil)
	if called {
		t.Error("unregistered handler must not fire")
	}
	if r.Count(EventAgentEnd) != 0 {
		t.Errorf("expected zero handlers, got %d", r.Count(EventAgentEnd))
	}
}

func TestRegistry_TieBrokenByRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		r.Register(EventInput, func(ctx context.Context, hc *HookContext) (*HookContext, error) {
			order = append(order, i)
			return nil, nil
		})
	}

	_, _ = r.Fire(context.Background(), EventInput, nil)
	for i := range order {
		if order[i] != i+1 {
			t.Fatalf("expected registration order, got %v", order)
		}
	}
}
