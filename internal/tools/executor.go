package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/internal/observability"
	"github.com/haasonsaas/agentos/pkg/models"
)

// Execution is the captured outcome of one tool call. Failures are data,
// not errors: the loop feeds them back to the LLM as tool results.
type Execution struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Success    bool   `json:"success"`

	// DurationMs is measured on a monotonic clock.
	DurationMs int64 `json:"duration_ms"`
}

// Result renders the execution as a tool-result message payload: the
// JSON-serialized output on success, the error string on failure.
func (e *Execution) Result() *models.ToolResult {
	res := &models.ToolResult{
		ToolCallID: e.ToolCallID,
		DurationMs: e.DurationMs,
	}
	if !e.Success {
		res.Content = e.Error
		res.IsError = true
		return res
	}
	switch out := e.Output.(type) {
	case string:
		res.Content = out
	case nil:
		res.Content = ""
	default:
		b, err := json.Marshal(out)
		if err != nil {
			res.Content = fmt.Sprintf("%v", out)
		} else {
			res.Content = string(b)
		}
	}
	return res
}

// Executor dispatches tool calls to registered handlers, capturing
// errors and measuring duration.
type Executor struct {
	registry *Registry
	hooks    *hooks.Registry
	logger   *slog.Logger
}

// NewExecutor creates a tool executor. The hook registry is optional;
// when present, tool_execution_start/end hooks fire around each call.
func NewExecutor(registry *Registry, hookReg *hooks.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		hooks:    hookReg,
		logger:   logger.With("component", "tool_executor"),
	}
}

// Execute runs a single tool call. It never returns an error: unknown
// tools, malformed arguments, and handler failures are all captured on
// the Execution so the LLM can react.
func (x *Executor) Execute(ctx context.Context, call models.ToolCall) *Execution {
	ctx, span := observability.StartSpan(ctx, "tool.execute",
		attribute.String("tool.name", call.Name))

	start := time.Now()
	exec := &Execution{ToolCallID: call.ID, Name: call.Name}
	finish := func() *Execution {
		exec.DurationMs = time.Since(start).Milliseconds()
		var spanErr error
		if !exec.Success {
			spanErr = fmt.Errorf("%s", exec.Error)
		}
		observability.EndSpan(span, spanErr)
		return exec
	}

	entry, ok := x.registry.Get(call.Name)
	if !ok {
		exec.Error = fmt.Sprintf("Unknown tool: %s", call.Name)
		return finish()
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			exec.Error = fmt.Sprintf("Invalid JSON arguments: %s", call.Arguments)
			return finish()
		}
	}

	x.fireExecution(ctx, hooks.EventToolExecutionStart, &call, nil)

	output, err := entry.Handler(ctx, args)
	if err != nil {
		exec.Error = err.Error()
		x.logger.Debug("tool failed", "tool", call.Name, "error", err)
	} else {
		exec.Output = output
		exec.Success = true
	}

	finish()
	x.fireExecution(ctx, hooks.EventToolExecutionEnd, &call, exec.Result())
	return exec
}

func (x *Executor) fireExecution(ctx context.Context, event hooks.Event, call *models.ToolCall, result *models.ToolResult) {
	if x.hooks == nil {
		return
	}
	if _, err := x.hooks.Fire(ctx, event, &hooks.HookContext{
		ToolCall:   call,
		ToolResult: result,
	}); err != nil {
		x.logger.Warn("execution hook failed", "event", event, "error", err)
	}
}
