package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/agentos/internal/agent"
	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/internal/llm"
	"github.com/haasonsaas/agentos/internal/observability"
	"github.com/haasonsaas/agentos/internal/sessions"
	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/internal/tools/policy"
	"github.com/haasonsaas/agentos/pkg/models"
)

// LocalConfig wires one in-process agent.
type LocalConfig struct {
	AgentID      string
	SystemPrompt string
	Priority     int

	// Profile names the LLM profile; empty uses the default.
	Profile string

	// MaxTurns bounds each task's tool loop. <= 0 uses the loop default.
	MaxTurns int

	Manager  *agent.Manager
	LLM      *llm.Service
	Tools    *tools.Registry
	Executor *tools.Executor
	Hooks    *hooks.Registry

	ResolvePolicy  func() *policy.Effective
	PinnedMCPTools []string

	Compactor *agent.Compactor
	Sessions  *sessions.Store

	// Bus, when set, lets the agent serve its inbox subject.
	Bus bus.Conn

	Logger *slog.Logger
}

// LocalAgent hosts one agent in this process: it owns the agent's
// conversations keyed by peer, walks the control block through its
// lifecycle, and drives the loop for every dispatched task. It serves
// both in-process dispatch and the agent's bus inbox.
type LocalAgent struct {
	cfg    LocalConfig
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*agent.Conversation
}

// NewLocalAgent registers the agent and walks it to READY.
func NewLocalAgent(cfg LocalConfig) (*LocalAgent, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cfg.Manager.Register(cfg.AgentID, cfg.Priority); err != nil {
		return nil, err
	}
	if err := cfg.Manager.Transition(cfg.AgentID, models.StatusInitializing); err != nil {
		return nil, err
	}
	if err := cfg.Manager.Transition(cfg.AgentID, models.StatusReady); err != nil {
		return nil, err
	}
	return &LocalAgent{
		cfg:           cfg,
		logger:        logger.With("component", "local_agent", "agent_id", cfg.AgentID),
		conversations: make(map[string]*agent.Conversation),
	}, nil
}

// Status reports the agent's lifecycle state.
func (a *LocalAgent) Status() (models.AgentStatus, error) {
	return a.cfg.Manager.Status(a.cfg.AgentID)
}

// Terminate destroys the agent's control block.
func (a *LocalAgent) Terminate() error {
	return a.cfg.Manager.Transition(a.cfg.AgentID, models.StatusTerminated)
}

// Dispatch runs one task and streams its events through the returned
// queue. The task runs asynchronously; a busy agent fails the queue.
func (a *LocalAgent) Dispatch(ctx context.Context, env *models.Envelope) (*infra.EventQueue[models.AgentEvent], error) {
	queue := infra.NewEventQueue[models.AgentEvent]()
	go func() {
		if err := a.run(ctx, env, queue.Push); err != nil {
			queue.Fail(err)
			return
		}
		queue.Complete()
	}()
	return queue, nil
}

// Serve consumes the agent's durable inbox. Subscribers share a queue
// group so only one replica of the agent handles each task.
func (a *LocalAgent) Serve(ctx context.Context) (bus.Subscription, error) {
	if a.cfg.Bus == nil {
		return nil, errors.New("no bus configured")
	}
	subject := bus.AgentInbox(a.cfg.AgentID)
	return a.cfg.Bus.Subscribe(subject, "workers-"+a.cfg.AgentID, func(ctx context.Context, env *models.Envelope) error {
		return a.handleTask(ctx, env)
	})
}

// handleTask runs a bus-delivered task and streams events to the
// envelope's replyTo subject. A busy agent returns the error so the bus
// redelivers after the ack deadline; any other failure is reported as a
// terminal task.error and acknowledged.
func (a *LocalAgent) handleTask(ctx context.Context, env *models.Envelope) error {
	emit := func(ev models.AgentEvent) { a.reply(ctx, env, ev) }

	err := a.run(ctx, env, emit)
	var te *agent.TransitionError
	if errors.As(err, &te) {
		a.logger.Debug("agent busy, leaving task for redelivery", "task_id", env.ID)
		return err
	}

	if env.ReplyTo == "" {
		return nil
	}
	if err != nil {
		a.publishTerminal(ctx, env, models.EventTaskError, map[string]string{"error": err.Error()})
	} else {
		a.publishTerminal(ctx, env, models.EventTaskDone, nil)
	}
	return nil
}

// reply forwards one loop event to the task's replyTo inbox. Publish
// failures degrade to a warning; the task itself keeps running.
func (a *LocalAgent) reply(ctx context.Context, env *models.Envelope, ev models.AgentEvent) {
	if env.ReplyTo == "" {
		return
	}
	out, err := env.Reply(models.EventTaskResponse, "agent://"+a.cfg.AgentID, ev)
	if err == nil {
		err = a.cfg.Bus.PublishCore(ctx, env.ReplyTo, out)
	}
	if err != nil {
		a.logger.Warn("reply publish failed", "task_id", env.ID, "error", err)
	}
}

func (a *LocalAgent) publishTerminal(ctx context.Context, env *models.Envelope, typ models.EventType, data any) {
	out, err := env.Reply(typ, "agent://"+a.cfg.AgentID, data)
	if err == nil {
		err = a.cfg.Bus.PublishCore(ctx, env.ReplyTo, out)
	}
	if err != nil {
		a.logger.Warn("terminal publish failed", "task_id", env.ID, "type", typ, "error", err)
	}
}

// run executes one task end to end: gate the dispatch through the state
// machine, append the user turn, drive the loop, settle the control
// block.
func (a *LocalAgent) run(ctx context.Context, env *models.Envelope, emit agent.EventSink) (err error) {
	text, err := taskText(env)
	if err != nil {
		return err
	}
	sessionID := sessionKey(env)

	// Input hooks may rewrite the task text before dispatch is gated.
	if a.cfg.Hooks != nil {
		hc, err := a.cfg.Hooks.Fire(ctx, hooks.EventInput, &hooks.HookContext{
			AgentID:   a.cfg.AgentID,
			SessionID: sessionID,
			Data:      map[string]any{"text": text},
		})
		if err != nil {
			return err
		}
		if hc != nil {
			if rewritten, ok := hc.Data["text"].(string); ok && rewritten != "" {
				text = rewritten
			}
		}
		if _, err := a.cfg.Hooks.Fire(ctx, hooks.EventBeforeAgentStart, &hooks.HookContext{
			AgentID:   a.cfg.AgentID,
			SessionID: sessionID,
		}); err != nil {
			return err
		}
	}

	if err := a.cfg.Manager.BeginDispatch(a.cfg.AgentID, env.ID); err != nil {
		return err
	}

	ctx = observability.ExtractTraceContext(ctx, env.TraceContext)
	ctx, span := observability.StartSpan(ctx, "agent.task",
		attribute.String("agent.id", a.cfg.AgentID),
		attribute.String("task.id", env.ID))
	defer func() { observability.EndSpan(span, err) }()
	conv := a.conversation(sessionID)
	conv.Append(models.Message{Role: models.RoleUser, Content: text, CreatedAt: env.Time})

	var usage models.Usage
	wrapped := func(ev models.AgentEvent) {
		if ev.Usage != nil {
			switch ev.Type {
			case models.AgentEventDone, models.AgentEventMaxTurnsReached:
				usage = *ev.Usage
			}
		}
		if ev.Iteration > 0 {
			a.cfg.Manager.RecordIteration(a.cfg.AgentID, ev.Iteration)
		}
		emit(ev)
	}

	loop := agent.NewLoop(agent.LoopConfig{
		AgentID:        a.cfg.AgentID,
		SessionID:      sessionID,
		Profile:        a.cfg.Profile,
		MaxTurns:       a.cfg.MaxTurns,
		LLM:            a.cfg.LLM,
		Registry:       a.cfg.Tools,
		Executor:       a.cfg.Executor,
		Hooks:          a.cfg.Hooks,
		ResolvePolicy:  a.cfg.ResolvePolicy,
		PinnedMCPTools: a.cfg.PinnedMCPTools,
		Compactor:      a.cfg.Compactor,
		Sessions:       a.cfg.Sessions,
		Logger:         a.logger,
	})
	if err := loop.Run(ctx, conv, wrapped); err != nil {
		a.cfg.Manager.Fail(a.cfg.AgentID, err.Error())
		return err
	}
	return a.cfg.Manager.EndDispatch(a.cfg.AgentID, usage)
}

// conversation returns the per-peer conversation, creating it with the
// agent's system prompt on first contact.
func (a *LocalAgent) conversation(sessionID string) *agent.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[sessionID]
	if !ok {
		conv = agent.NewConversation(a.cfg.SystemPrompt)
		a.conversations[sessionID] = conv
	}
	return conv
}

// taskText extracts the user text from the envelope payload. The payload
// is either {"text": ...} or a bare JSON string.
func taskText(env *models.Envelope) (string, error) {
	if len(env.Data) == 0 {
		return "", fmt.Errorf("task %s has no payload", env.ID)
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(env.Data, &payload); err == nil && payload.Text != "" {
		return payload.Text, nil
	}
	var plain string
	if err := json.Unmarshal(env.Data, &plain); err == nil && plain != "" {
		return plain, nil
	}
	return "", fmt.Errorf("task %s payload has no text", env.ID)
}

// sessionKey pins conversation continuity to the sender: one session per
// channel and user when the metadata names them, otherwise one session
// per interaction.
func sessionKey(env *models.Envelope) string {
	channel := env.Metadata["channel_id"]
	user := env.Metadata["user_id"]
	if channel != "" && user != "" {
		return channel + ":" + user
	}
	return env.Correlation()
}
