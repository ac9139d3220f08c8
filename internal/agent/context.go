// Package agent implements the agent runtime: conversation state, the
// lifecycle state machine, the bounded tool-calling loop, and context
// compaction.
package agent

import (
	"sync"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Conversation holds an agent's message history. The system prompt is
// pinned at the head and survives compaction; all other messages are
// appended in order.
type Conversation struct {
	mu      sync.RWMutex
	system  string
	history []models.Message
}

// NewConversation creates a conversation with a pinned system prompt.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{system: systemPrompt}
}

// Append adds a message to the history. System messages are rejected by
// construction; the prompt is set once and only replaced via
// SetSystemPrompt.
func (c *Conversation) Append(msgs ...models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		c.history = append(c.history, msg)
	}
}

// Messages returns a copy of the full context: system prompt first, then
// history in order.
func (c *Conversation) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, 0, len(c.history)+1)
	if c.system != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: c.system})
	}
	out = append(out, c.history...)
	return out
}

// History returns a copy of the history without the system prompt.
func (c *Conversation) History() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

// ReplaceHistory swaps the history wholesale, keeping the system prompt.
// Compaction uses this to install the summarized context.
func (c *Conversation) ReplaceHistory(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		c.history = append(c.history, msg)
	}
}

// SystemPrompt returns the pinned prompt.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system
}

// SetSystemPrompt replaces the pinned prompt.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = prompt
}

// Len reports the history length, excluding the system prompt.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}
