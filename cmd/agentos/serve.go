package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentos/internal/agent"
	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/channels"
	"github.com/haasonsaas/agentos/internal/config"
	"github.com/haasonsaas/agentos/internal/gateway"
	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/internal/llm"
	"github.com/haasonsaas/agentos/internal/memory"
	"github.com/haasonsaas/agentos/internal/observability"
	"github.com/haasonsaas/agentos/internal/orchestrator"
	"github.com/haasonsaas/agentos/internal/sessions"
	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/internal/tools/builtin"
	"github.com/haasonsaas/agentos/internal/tools/policy"
	"github.com/haasonsaas/agentos/pkg/models"
)

const defaultConfigPath = "agentos.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentos gateway and hosted agents",
		Long: `Start the platform: connect to the message bus, register the
configured agents, open the WebSocket gateway, and start any channel
adapters. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  agentos serve

  # Start with a custom config and debug logging
  agentos serve --config /etc/agentos/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitError{exitConfig, err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d agents, %d bindings, %d model profiles\n",
				len(cfg.Agents), len(cfg.Bindings), len(cfg.Models.Profiles))
			return nil
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(validate)
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{exitConfig, err}
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: "json",
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := bus.ConnectNATS(bus.NATSConfig{
		URL:    cfg.Gateway.NATSURL,
		Name:   "agentos",
		Logger: logger,
	})
	if err != nil {
		return &exitError{exitBus, fmt.Errorf("connect bus: %w", err)}
	}
	defer conn.Close()

	var memStore *memory.Store
	var embedder memory.Embedder
	if cfg.Memory != nil {
		memStore, err = memory.OpenStore(memory.StoreConfig{
			Path:      cfg.Memory.Path,
			Dimension: cfg.Memory.Dimension,
			Logger:    logger,
		})
		if err != nil {
			return &exitError{exitStore, fmt.Errorf("open memory store: %w", err)}
		}
		defer memStore.Close()

		if cfg.Memory.Embedding.APIKey != "" {
			embedder = memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
				APIKey:    cfg.Memory.Embedding.APIKey,
				BaseURL:   cfg.Memory.Embedding.BaseURL,
				Model:     cfg.Memory.Embedding.Model,
				Dimension: cfg.Memory.Dimension,
			})
		}
	}

	sessionStore := sessions.NewStore(cfg.Session.Dir, logger)

	svc, err := buildLLMService(cfg, logger)
	if err != nil {
		return &exitError{exitConfig, err}
	}

	hookReg := hooks.NewRegistry(logger)
	if memStore != nil {
		flusher := memory.NewFlusher(memStore, embedder, memory.FlushConfig{
			TargetTokens:   cfg.Memory.Flush.TargetTokens,
			OverlapTokens:  cfg.Memory.Flush.OverlapTokens,
			MaxChunkTokens: cfg.Memory.Flush.MaxChunkTokens,
		}, logger)
		flusher.Register(hookReg)
	}

	resolver := policy.NewResolver()
	for name, members := range cfg.Tools.Groups {
		resolver.DefineGroup(name, members)
	}

	manager := agent.NewManager(logger)
	oreg := orchestrator.NewRegistry(orchestrator.RegistryConfig{Bus: conn, Logger: logger})

	var subs []bus.Subscription
	unsubscribeAll := func() {
		for i := len(subs) - 1; i >= 0; i-- {
			if err := subs[i].Unsubscribe(); err != nil {
				logger.Warn("unsubscribe failed", "error", err)
			}
		}
	}
	defer unsubscribeAll()

	for _, ac := range cfg.Agents {
		la, err := buildAgent(cfg, ac, agentDeps{
			manager:   manager,
			llm:       svc,
			hooks:     hookReg,
			resolver:  resolver,
			sessions:  sessionStore,
			memory:    memStore,
			embedder:  embedder,
			conn:      conn,
			orchestra: oreg,
			logger:    logger,
		})
		if err != nil {
			return &exitError{exitConfig, fmt.Errorf("agent %s: %w", ac.ID, err)}
		}
		oreg.RegisterLocal(ac.ID, la)
		sub, err := la.Serve(ctx)
		if err != nil {
			return &exitError{exitBus, fmt.Errorf("serve agent %s: %w", ac.ID, err)}
		}
		subs = append(subs, sub)
	}

	promReg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(promReg)
	gw := gateway.New(gateway.Config{
		LaneWatermark: cfg.Gateway.LaneWatermark,
		DedupeTTL:     cfg.Gateway.DedupeTTL.Std(),
		Breaker: infra.CircuitBreakerConfig{
			FailureThreshold: cfg.Gateway.Breaker.FailureThreshold,
			FailureWindow:    cfg.Gateway.Breaker.Window.Std(),
			Cooldown:         cfg.Gateway.Breaker.Cooldown.Std(),
		},
	}, conn, metrics, logger)

	// Agents answer on this inbox; the response router fans replies
	// back to the originating session.
	replyInbox := conn.NewInbox()
	replySub, err := conn.Subscribe(replyInbox, "", func(ctx context.Context, env *models.Envelope) error {
		gw.Responses().Route(env)
		return nil
	})
	if err != nil {
		return &exitError{exitBus, fmt.Errorf("subscribe reply inbox: %w", err)}
	}
	subs = append(subs, replySub)
	gw.AttachReplyInbox(replyInbox)

	server := gateway.NewServer(gateway.ServerConfig{
		Addr: cfg.Gateway.Listen,
		Auth: gateway.AuthConfig{
			Secret:         cfg.Auth.Secret,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
		},
	}, gw, metrics, promReg, logger)

	bindingResolver := channels.NewResolver()
	for i := range cfg.Bindings {
		bindingResolver.Add(&cfg.Bindings[i])
	}
	chManager := channels.NewManager(bindingResolver, gw, gw.Responses(), logger)
	for _, cc := range cfg.Channels {
		// Adapter implementations register themselves as plugins; a bare
		// declaration without one is a configuration smell worth flagging.
		logger.Warn("no adapter implementation available", "channel_type", cc.Type)
	}
	if err := chManager.Start(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	logger.Info("agentos started",
		"listen", cfg.Gateway.Listen,
		"agents", len(cfg.Agents),
		"bindings", len(cfg.Bindings))

	serveErr := server.ListenAndServe(ctx)
	signaled := ctx.Err() != nil

	// Shut down in reverse construction order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := chManager.Stop(shutdownCtx); err != nil {
		logger.Warn("channel shutdown failed", "error", err)
	}
	unsubscribeAll()
	subs = nil
	gw.Drain()

	if serveErr != nil {
		return serveErr
	}
	if signaled {
		logger.Info("shutdown complete")
		return &exitError{exitSignal, context.Canceled}
	}
	return nil
}

// buildLLMService registers every configured model profile, default
// profile first so the service treats it as the fallback.
func buildLLMService(cfg *config.Config, logger *slog.Logger) (*llm.Service, error) {
	svc := llm.NewService(logger)

	ordered := make([]config.ModelProfile, 0, len(cfg.Models.Profiles))
	for _, p := range cfg.Models.Profiles {
		if p.Name == cfg.Models.Default {
			ordered = append([]config.ModelProfile{p}, ordered...)
			continue
		}
		ordered = append(ordered, p)
	}

	for _, p := range ordered {
		var provider llm.Provider
		switch p.Provider {
		case "openai", "":
			provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:       p.APIKey,
				BaseURL:      p.BaseURL,
				DefaultModel: p.Model,
			})
		default:
			return nil, fmt.Errorf("model profile %s: unknown provider %q", p.Name, p.Provider)
		}
		if err := svc.RegisterProfile(&llm.Profile{
			Name:          p.Name,
			Provider:      provider,
			Model:         p.Model,
			ContextWindow: p.ContextWindow,
			ReserveTokens: p.ReserveTokens,
			MaxTokens:     p.MaxTokens,
		}); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

type agentDeps struct {
	manager   *agent.Manager
	llm       *llm.Service
	hooks     *hooks.Registry
	resolver  *policy.Resolver
	sessions  *sessions.Store
	memory    *memory.Store
	embedder  memory.Embedder
	conn      bus.Conn
	orchestra *orchestrator.Registry
	logger    *slog.Logger
}

// buildAgent assembles one hosted agent: a per-agent tool registry (the
// memory and coordination tools are scoped to the agent's identity), a
// layered policy, a compactor, and the loop wiring.
func buildAgent(cfg *config.Config, ac config.Agent, deps agentDeps) (*orchestrator.LocalAgent, error) {
	registry := tools.NewRegistry()

	workdir := cfg.Sandbox.Workdir
	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	for _, entry := range builtin.FileTools(workdir) {
		if err := registry.Register(entry); err != nil {
			return nil, err
		}
	}
	if err := registry.Register(builtin.BashTool(builtin.BashConfig{
		Workdir:  workdir,
		YoloMode: cfg.Sandbox.YoloMode,
		Logger:   deps.logger,
	})); err != nil {
		return nil, err
	}

	if deps.memory != nil {
		for _, entry := range memory.Tools(deps.memory, deps.embedder, ac.ID) {
			if err := registry.Register(entry); err != nil {
				return nil, err
			}
		}
	}
	for _, entry := range orchestrator.Tools(deps.orchestra, ac.ID) {
		if err := registry.Register(entry); err != nil {
			return nil, err
		}
	}

	globalRules := cfg.Tools.Rules()
	agentRules := ac.Tools
	resolvePolicy := func() *policy.Effective {
		return deps.resolver.Resolve(globalRules, &agentRules)
	}
	if err := registry.Register(tools.NewUseMCPTool(registry, resolvePolicy)); err != nil {
		return nil, err
	}

	executor := tools.NewExecutor(registry, deps.hooks, deps.logger)
	compactor := agent.NewCompactor(deps.llm, deps.hooks, ac.Model, 3, deps.logger)

	return orchestrator.NewLocalAgent(orchestrator.LocalConfig{
		AgentID:        ac.ID,
		SystemPrompt:   ac.SystemPrompt,
		Priority:       ac.Priority,
		Profile:        ac.Model,
		MaxTurns:       ac.MaxTurns,
		Manager:        deps.manager,
		LLM:            deps.llm,
		Tools:          registry,
		Executor:       executor,
		Hooks:          deps.hooks,
		ResolvePolicy:  resolvePolicy,
		PinnedMCPTools: ac.PinnedMCPTools,
		Compactor:      compactor,
		Sessions:       deps.sessions,
		Bus:            deps.conn,
		Logger:         deps.logger,
	})
}
