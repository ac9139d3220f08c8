package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/internal/llm"
	"github.com/haasonsaas/agentos/internal/sessions"
	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/internal/tools/policy"
	"github.com/haasonsaas/agentos/pkg/models"
)

const defaultMaxTurns = 100

// EventSink receives loop events in emission order.
type EventSink func(models.AgentEvent)

// LoopConfig wires a loop's collaborators.
type LoopConfig struct {
	AgentID   string
	SessionID string

	// Profile names the LLM profile; empty uses the default.
	Profile string

	// MaxTurns bounds the tool-calling loop. <= 0 uses 100.
	MaxTurns int

	LLM      *llm.Service
	Registry *tools.Registry
	Executor *tools.Executor
	Hooks    *hooks.Registry

	// ResolvePolicy returns the effective tool policy for this run.
	// Nil means every registered tool is exposed.
	ResolvePolicy func() *policy.Effective

	// PinnedMCPTools are MCP tools exposed directly instead of through
	// the meta-tool.
	PinnedMCPTools []string

	// Compactor, when set, runs between turns once the context grows
	// into the reserve band.
	Compactor *Compactor

	// Sessions, when set, records messages as they are produced.
	Sessions *sessions.Store

	Logger *slog.Logger
}

// Loop drives one agent task to completion: stream a completion, execute
// any tool calls, feed results back, repeat until the model stops
// calling tools or the turn bound is hit.
type Loop struct {
	cfg      LoopConfig
	maxTurns int
	logger   *slog.Logger
}

// NewLoop creates a loop from its configuration.
func NewLoop(cfg LoopConfig) *Loop {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		maxTurns: maxTurns,
		logger:   logger.With("component", "agent_loop", "agent_id", cfg.AgentID),
	}
}

// Run executes the loop over the conversation. Events are emitted in
// strict order; the final event is done, max_turns_reached, or error.
// The returned error mirrors the error event so callers can move the
// agent to its failure state.
func (l *Loop) Run(ctx context.Context, conv *Conversation, emit EventSink) error {
	if emit == nil {
		emit = func(models.AgentEvent) {}
	}

	l.fire(ctx, hooks.EventAgentStart, &hooks.HookContext{
		AgentID:   l.cfg.AgentID,
		SessionID: l.cfg.SessionID,
	})

	var totalUsage models.Usage
	for iteration := 1; iteration <= l.maxTurns; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.failRun(emit, iteration, err)
		}

		l.fire(ctx, hooks.EventTurnStart, &hooks.HookContext{
			AgentID:   l.cfg.AgentID,
			SessionID: l.cfg.SessionID,
			Iteration: iteration,
		})

		messages := conv.Messages()
		if hc := l.fire(ctx, hooks.EventContextAssemble, &hooks.HookContext{
			AgentID:   l.cfg.AgentID,
			SessionID: l.cfg.SessionID,
			Iteration: iteration,
			Messages:  messages,
		}); hc != nil && hc.Messages != nil {
			messages = hc.Messages
		}

		resp, err := l.complete(ctx, messages)
		if err != nil {
			return l.failRun(emit, iteration, err)
		}
		totalUsage.Add(resp.Usage)
		turnUsage := resp.Usage

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now().UTC(),
		}
		conv.Append(assistant)
		l.record(ctx, assistant)

		emit(models.AgentEvent{
			Type:      models.AgentEventAssistantMessage,
			AgentID:   l.cfg.AgentID,
			SessionID: l.cfg.SessionID,
			Iteration: iteration,
			Text:      resp.Text,
			Usage:     &turnUsage,
			Timestamp: time.Now().UTC(),
		})

		if len(resp.ToolCalls) == 0 {
			if resp.FinishReason == llm.FinishLength {
				return l.failRun(emit, iteration,
					errors.New("completion truncated by token limit"))
			}
			l.finish(ctx, emit, iteration, totalUsage)
			return nil
		}

		turnMessages := []models.Message{assistant}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			result, err := l.executeCall(ctx, emit, iteration, call)
			if err != nil {
				return l.failRun(emit, iteration, err)
			}
			toolMsg := models.Message{
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
				CreatedAt:  time.Now().UTC(),
			}
			conv.Append(toolMsg)
			l.record(ctx, toolMsg)
			turnMessages = append(turnMessages, toolMsg)
		}

		l.fire(ctx, hooks.EventTurnEnd, &hooks.HookContext{
			AgentID:   l.cfg.AgentID,
			SessionID: l.cfg.SessionID,
			Iteration: iteration,
			Messages:  turnMessages,
		})

		l.maybeCompact(ctx, conv)
	}

	emit(models.AgentEvent{
		Type:      models.AgentEventMaxTurnsReached,
		AgentID:   l.cfg.AgentID,
		SessionID: l.cfg.SessionID,
		Iteration: l.maxTurns,
		Usage:     &totalUsage,
		Timestamp: time.Now().UTC(),
	})
	l.logger.Warn("turn bound reached", "max_turns", l.maxTurns)
	return nil
}

func (l *Loop) complete(ctx context.Context, messages []models.Message) (*llm.Response, error) {
	chunks, _, err := l.cfg.LLM.Stream(ctx, l.cfg.Profile, messages, l.toolDefinitions())
	if err != nil {
		return nil, err
	}
	return llm.Accumulate(ctx, chunks)
}

func (l *Loop) toolDefinitions() []models.ToolDefinition {
	if l.cfg.Registry == nil {
		return nil
	}
	var eff *policy.Effective
	if l.cfg.ResolvePolicy != nil {
		eff = l.cfg.ResolvePolicy()
	}
	entries := tools.EffectiveEntries(l.cfg.Registry, eff, l.cfg.PinnedMCPTools)
	defs := make([]models.ToolDefinition, 0, len(entries))
	for _, entry := range entries {
		defs = append(defs, entry.Definition)
	}
	return defs
}

// executeCall runs one tool call through the veto hook and the executor.
// A hook block becomes a synthetic error result so the model learns the
// call was refused instead of the run dying. Any other hook error fails
// the run: if the guard chain cannot decide, the tool must not execute.
func (l *Loop) executeCall(ctx context.Context, emit EventSink, iteration int, call models.ToolCall) (*models.ToolResult, error) {
	var err error
	if l.cfg.Hooks != nil {
		_, err = l.cfg.Hooks.Fire(ctx, hooks.EventToolCall, &hooks.HookContext{
			AgentID:   l.cfg.AgentID,
			SessionID: l.cfg.SessionID,
			Iteration: iteration,
			ToolCall:  &call,
		})
	}
	var blocked *hooks.BlockError
	if errors.As(err, &blocked) {
		result := &models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("[blocked: %s]", blocked.Reason),
			IsError:    true,
		}
		emit(models.AgentEvent{
			Type:       models.AgentEventToolBlocked,
			AgentID:    l.cfg.AgentID,
			SessionID:  l.cfg.SessionID,
			Iteration:  iteration,
			ToolCall:   &call,
			ToolResult: result,
			Reason:     blocked.Reason,
			Timestamp:  time.Now().UTC(),
		})
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	exec := l.cfg.Executor.Execute(ctx, call)
	result := exec.Result()

	if hc := l.fire(ctx, hooks.EventToolResult, &hooks.HookContext{
		AgentID:    l.cfg.AgentID,
		SessionID:  l.cfg.SessionID,
		Iteration:  iteration,
		ToolCall:   &call,
		ToolResult: result,
	}); hc != nil && hc.ToolResult != nil {
		result = hc.ToolResult
	}

	emit(models.AgentEvent{
		Type:       models.AgentEventToolResult,
		AgentID:    l.cfg.AgentID,
		SessionID:  l.cfg.SessionID,
		Iteration:  iteration,
		ToolCall:   &call,
		ToolResult: result,
		Timestamp:  time.Now().UTC(),
	})
	return result, nil
}

func (l *Loop) maybeCompact(ctx context.Context, conv *Conversation) {
	if l.cfg.Compactor == nil {
		return
	}
	profile, err := l.cfg.LLM.Profile(l.cfg.Profile)
	if err != nil {
		return
	}
	if !l.cfg.Compactor.Needs(profile, conv.Messages()) {
		return
	}
	if err := l.cfg.Compactor.Compact(ctx, l.cfg.AgentID, l.cfg.SessionID, conv); err != nil {
		l.logger.Warn("compaction failed", "error", err)
	}
}

func (l *Loop) finish(ctx context.Context, emit EventSink, iteration int, usage models.Usage) {
	l.fire(ctx, hooks.EventAgentEnd, &hooks.HookContext{
		AgentID:   l.cfg.AgentID,
		SessionID: l.cfg.SessionID,
		Iteration: iteration,
	})
	emit(models.AgentEvent{
		Type:      models.AgentEventDone,
		AgentID:   l.cfg.AgentID,
		SessionID: l.cfg.SessionID,
		Iteration: iteration,
		Usage:     &usage,
		Timestamp: time.Now().UTC(),
	})
}

func (l *Loop) failRun(emit EventSink, iteration int, err error) error {
	emit(models.AgentEvent{
		Type:      models.AgentEventError,
		AgentID:   l.cfg.AgentID,
		SessionID: l.cfg.SessionID,
		Iteration: iteration,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	l.logger.Error("agent run failed", "iteration", iteration, "error", err)
	return err
}

func (l *Loop) fire(ctx context.Context, event hooks.Event, hc *hooks.HookContext) *hooks.HookContext {
	if l.cfg.Hooks == nil {
		return nil
	}
	out, err := l.cfg.Hooks.Fire(ctx, event, hc)
	if err != nil {
		l.logger.Warn("hook failed", "event", event, "error", err)
		return nil
	}
	return out
}

func (l *Loop) record(ctx context.Context, msg models.Message) {
	if l.cfg.Sessions == nil || l.cfg.SessionID == "" {
		return
	}
	if err := l.cfg.Sessions.AppendMessage(ctx, l.cfg.AgentID, l.cfg.SessionID, msg); err != nil {
		l.logger.Warn("session append failed", "error", err)
	}
}
