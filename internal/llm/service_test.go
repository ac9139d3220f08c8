package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentos/pkg/models"
)

type staticProvider struct {
	name   string
	chunks []*Chunk
	err    error
	calls  int
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return streamOf(p.chunks...), nil
}

func (p *staticProvider) ContextWindow(model string) int { return 8192 }

func (p *staticProvider) CountTokens(messages []models.Message) int {
	return EstimateTokens(messages)
}

func TestService_ProfileResolution(t *testing.T) {
	s := NewService(nil)
	provider := &staticProvider{name: "mock"}
	if err := s.RegisterProfile(&Profile{Name: "fast", Provider: provider, Model: "m1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Empty name resolves the default profile.
	p, err := s.Profile("")
	if err != nil || p.Name != "fast" {
		t.Fatalf("expected default profile, got %v %v", p, err)
	}

	if _, err := s.Profile("missing"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestService_DuplicateProfileRejected(t *testing.T) {
	s := NewService(nil)
	provider := &staticProvider{name: "mock"}
	_ = s.RegisterProfile(&Profile{Name: "fast", Provider: provider})
	if err := s.RegisterProfile(&Profile{Name: "fast", Provider: provider}); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestService_StreamThroughProfile(t *testing.T) {
	s := NewService(nil)
	provider := &staticProvider{
		name:   "mock",
		chunks: []*Chunk{{TextDelta: "Hi"}, {Done: true, FinishReason: FinishStop}},
	}
	_ = s.RegisterProfile(&Profile{Name: "fast", Provider: provider, Model: "m1"})

	chunks, profile, err := s.Stream(context.Background(), "fast", nil, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if profile.Model != "m1" {
		t.Errorf("unexpected profile %+v", profile)
	}

	resp, err := Accumulate(context.Background(), chunks)
	if err != nil || resp.Text != "Hi" {
		t.Fatalf("unexpected response %+v err %v", resp, err)
	}
}

func TestService_BreakerOpensOnRepeatedFailure(t *testing.T) {
	s := NewService(nil)
	provider := &staticProvider{name: "mock", err: errors.New("connection refused")}
	_ = s.RegisterProfile(&Profile{Name: "fast", Provider: provider})

	for i := 0; i < 5; i++ {
		_, _, _ = s.Stream(context.Background(), "fast", nil, nil)
	}
	before := provider.calls

	_, _, err := s.Stream(context.Background(), "fast", nil, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if provider.calls != before {
		t.Error("breaker should fail fast without reaching the provider")
	}
}

func TestProfile_WindowAndReserve(t *testing.T) {
	p := &Profile{Provider: &staticProvider{name: "mock"}}
	if p.Window() != 8192 {
		t.Errorf("expected provider window, got %d", p.Window())
	}
	p.ContextWindow = 1000
	if p.Window() != 1000 {
		t.Errorf("expected override window, got %d", p.Window())
	}
	if p.Reserve() != 1024 {
		t.Errorf("expected default reserve, got %d", p.Reserve())
	}
	p.ReserveTokens = 200
	if p.Reserve() != 200 {
		t.Errorf("expected explicit reserve, got %d", p.Reserve())
	}
}
