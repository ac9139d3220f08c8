package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/internal/tools/security"
	"github.com/haasonsaas/agentos/pkg/models"
)

// Runner executes a shell command and returns its combined output. The
// sandbox driver implements this interface for red-level commands routed
// off-host; LocalRunner runs on the node itself.
type Runner interface {
	Run(ctx context.Context, command, workdir string) (string, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	// Timeout bounds a single command. Default: 60s.
	Timeout time.Duration
}

// Run implements Runner via /bin/sh -c.
func (r *LocalRunner) Run(ctx context.Context, command, workdir string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}

// BashConfig configures the bash tool.
type BashConfig struct {
	// Workdir is the working directory for executed commands.
	Workdir string

	// YoloMode permits red-level commands. Critical commands are always
	// refused.
	YoloMode bool

	// Runner executes the command. Defaults to LocalRunner.
	Runner Runner

	// SandboxRunner, when set, receives red-level commands instead of
	// Runner.
	SandboxRunner Runner

	Logger *slog.Logger
}

// BashTool builds the risk-gated shell tool entry.
func BashTool(cfg BashConfig) *tools.Entry {
	if cfg.Runner == nil {
		cfg.Runner = &LocalRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bash_tool")

	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "bash",
			Description: "Execute a shell command. Dangerous commands are refused or require elevated mode.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command to execute"}
				},
				"required": ["command"]
			}`),
			Annotations: models.ToolAnnotations{
				RiskLevel:   models.RiskRed,
				Destructive: true,
			},
		},
		Source: models.SourceBuiltin,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			if strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("command is required")
			}

			assessment := security.Classify(command)
			switch {
			case assessment.Blocked:
				return nil, fmt.Errorf("command blocked: %s", assessment.Reason)
			case assessment.Level == models.RiskRed && !cfg.YoloMode:
				return nil, fmt.Errorf("command refused: %s requires elevated mode", firstWord(command))
			case assessment.Level == models.RiskYellow:
				logger.Info("executing yellow-risk command", "command", command)
			}

			runner := cfg.Runner
			if assessment.Level == models.RiskRed && cfg.SandboxRunner != nil {
				runner = cfg.SandboxRunner
			}
			return runner.Run(ctx, command, cfg.Workdir)
		},
	}
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}
