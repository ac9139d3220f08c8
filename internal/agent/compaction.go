package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/internal/llm"
	"github.com/haasonsaas/agentos/pkg/models"
)

const defaultKeepExchanges = 3

const summaryInstruction = "Summarize the conversation so far for your own future reference. " +
	"Keep decisions made, facts established, file paths touched, and unresolved questions. " +
	"Be dense and factual; omit pleasantries."

// Compactor shrinks a conversation when it approaches the model's
// context window. The system prompt and the most recent exchanges are
// kept verbatim; everything between them is replaced by an LLM summary.
type Compactor struct {
	llm           *llm.Service
	hooks         *hooks.Registry
	profile       string
	keepExchanges int
	logger        *slog.Logger
}

// NewCompactor creates a compactor summarizing through the named
// profile. keepExchanges <= 0 keeps the default of 3.
func NewCompactor(svc *llm.Service, hookReg *hooks.Registry, profile string, keepExchanges int, logger *slog.Logger) *Compactor {
	if keepExchanges <= 0 {
		keepExchanges = defaultKeepExchanges
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		llm:           svc,
		hooks:         hookReg,
		profile:       profile,
		keepExchanges: keepExchanges,
		logger:        logger.With("component", "compactor"),
	}
}

// Needs reports whether the context has grown into the reserve band.
func (c *Compactor) Needs(profile *llm.Profile, messages []models.Message) bool {
	return profile.Provider.CountTokens(messages) >= profile.Window()-profile.Reserve()
}

// Compact rewrites the conversation in place. Ordering matters: the
// memory_flush hook sees the full history before anything is dropped, so
// episodic memory can capture what the summary will lose; session_compact
// fires after the rebuild.
func (c *Compactor) Compact(ctx context.Context, agentID, sessionID string, conv *Conversation) error {
	history := conv.History()
	cut := exchangeCut(history, c.keepExchanges)
	if cut <= 0 {
		return nil
	}
	head, tail := history[:cut], history[cut:]

	if c.hooks != nil {
		_, err := c.hooks.Fire(ctx, hooks.EventMemoryFlush, &hooks.HookContext{
			AgentID:   agentID,
			SessionID: sessionID,
			Messages:  conv.Messages(),
		})
		if err != nil {
			c.logger.Warn("memory flush hook failed", "agent_id", agentID, "error", err)
		}
	}

	summary, err := c.summarize(ctx, head)
	if err != nil {
		return fmt.Errorf("compaction summary: %w", err)
	}

	rebuilt := make([]models.Message, 0, len(tail)+1)
	rebuilt = append(rebuilt, models.Message{
		Role:    models.RoleAssistant,
		Content: "Summary of the conversation so far:\n\n" + summary,
	})
	rebuilt = append(rebuilt, tail...)
	conv.ReplaceHistory(rebuilt)

	if c.hooks != nil {
		_, err := c.hooks.Fire(ctx, hooks.EventSessionCompact, &hooks.HookContext{
			AgentID:   agentID,
			SessionID: sessionID,
			Messages:  conv.Messages(),
			Data:      map[string]any{"dropped": len(head)},
		})
		if err != nil {
			c.logger.Warn("session compact hook failed", "agent_id", agentID, "error", err)
		}
	}

	c.logger.Info("context compacted",
		"agent_id", agentID, "dropped", len(head), "kept", len(tail))
	return nil
}

func (c *Compactor) summarize(ctx context.Context, head []models.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range head {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	request := []models.Message{
		{Role: models.RoleSystem, Content: summaryInstruction},
		{Role: models.RoleUser, Content: transcript.String()},
	}
	chunks, _, err := c.llm.Stream(ctx, c.profile, request, nil)
	if err != nil {
		return "", err
	}
	resp, err := llm.Accumulate(ctx, chunks)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// exchangeCut returns the history index where the last keep exchanges
// begin. An exchange starts at a user message and runs until the next
// one; everything before the cut is summarizable.
func exchangeCut(history []models.Message, keep int) int {
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			seen++
			if seen == keep {
				return i
			}
		}
	}
	return 0
}
