package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrProviderUnavailable is returned when no profile is bound for an
// agent or the profile lookup fails.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// Profile binds a named model configuration to a provider.
type Profile struct {
	// Name identifies the profile in agent configuration.
	Name string

	// Provider streams completions.
	Provider Provider

	// Model is the provider model ID.
	Model string

	// ContextWindow overrides the provider's window when > 0.
	ContextWindow int

	// ReserveTokens is held back from the window before compaction
	// triggers.
	ReserveTokens int

	// MaxTokens bounds response length.
	MaxTokens int
}

// Service resolves model profiles and streams completions through a
// circuit breaker per provider.
type Service struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	defaultP string
	breakers map[string]*infra.CircuitBreaker
	logger   *slog.Logger
}

// NewService creates an empty LLM service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles: make(map[string]*Profile),
		breakers: make(map[string]*infra.CircuitBreaker),
		logger:   logger.With("component", "llm"),
	}
}

// RegisterProfile adds a profile. The first registered profile becomes
// the default.
func (s *Service) RegisterProfile(p *Profile) error {
	if p == nil || p.Name == "" || p.Provider == nil {
		return fmt.Errorf("invalid profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.Name]; exists {
		return fmt.Errorf("profile %s already registered", p.Name)
	}
	s.profiles[p.Name] = p
	if s.defaultP == "" {
		s.defaultP = p.Name
	}
	if _, ok := s.breakers[p.Provider.Name()]; !ok {
		s.breakers[p.Provider.Name()] = infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name: "llm:" + p.Provider.Name(),
			OnStateChange: func(name, from, to string) {
				s.logger.Warn("llm breaker state change", "breaker", name, "from", from, "to", to)
			},
		})
	}
	return nil
}

// Profile resolves a profile by name; empty resolves the default.
func (s *Service) Profile(name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "" {
		name = s.defaultP
	}
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: profile %q", ErrProviderUnavailable, name)
	}
	return p, nil
}

// Stream resolves the profile and opens a protected completion stream.
func (s *Service) Stream(ctx context.Context, profileName string, messages []models.Message, tools []models.ToolDefinition) (<-chan *Chunk, *Profile, error) {
	profile, err := s.Profile(profileName)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	breaker := s.breakers[profile.Provider.Name()]
	s.mu.RUnlock()

	req := &Request{
		Model:     profile.Model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: profile.MaxTokens,
	}

	chunks, err := infra.ExecuteWithResult(breaker, ctx, func(ctx context.Context) (<-chan *Chunk, error) {
		return profile.Provider.Stream(ctx, req)
	})
	if err != nil {
		return nil, nil, err
	}
	return chunks, profile, nil
}

// ContextWindow returns the effective window for a profile.
func (p *Profile) Window() int {
	if p.ContextWindow > 0 {
		return p.ContextWindow
	}
	return p.Provider.ContextWindow(p.Model)
}

// Reserve returns the reserve token count, defaulting to 1024.
func (p *Profile) Reserve() int {
	if p.ReserveTokens > 0 {
		return p.ReserveTokens
	}
	return 1024
}
