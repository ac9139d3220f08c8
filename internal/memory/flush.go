package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/agentos/internal/hooks"
	"github.com/haasonsaas/agentos/pkg/models"
)

// FlushConfig tunes conversation chunking.
type FlushConfig struct {
	// TargetTokens is the chunk size aimed for. <= 0 uses 400.
	TargetTokens int

	// OverlapTokens carries context across chunk boundaries. <= 0 uses 50.
	OverlapTokens int

	// MaxChunkTokens caps a single chunk. <= 0 uses 512.
	MaxChunkTokens int
}

// Flusher captures conversation history into the chunk store when the
// memory_flush hook fires, so compaction can drop history without
// forgetting it.
type Flusher struct {
	store    *Store
	embedder Embedder
	cfg      FlushConfig
	logger   *slog.Logger
}

// NewFlusher creates a flusher. The embedder is optional; without it the
// chunks are still searchable by BM25.
func NewFlusher(store *Store, embedder Embedder, cfg FlushConfig, logger *slog.Logger) *Flusher {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 400
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = 50
	}
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "memory_flush"),
	}
}

// Register attaches the flush handler to the hook registry.
func (f *Flusher) Register(reg *hooks.Registry) {
	reg.Register(hooks.EventMemoryFlush, f.Hook(),
		hooks.WithName("memory_flush"), hooks.WithSource("memory"))
}

// Hook returns the memory_flush handler. It returns the hook context
// unchanged; failures are logged, never propagated, because losing a
// memory write must not break compaction.
func (f *Flusher) Hook() hooks.Handler {
	return func(ctx context.Context, hc *hooks.HookContext) (*hooks.HookContext, error) {
		if err := f.Flush(ctx, hc.AgentID, hc.SessionID, hc.Messages); err != nil {
			f.logger.Warn("memory flush failed", "agent_id", hc.AgentID, "error", err)
		}
		return nil, nil
	}
}

// Flush chunks the conversation, scores importance, embeds, and upserts.
func (f *Flusher) Flush(ctx context.Context, agentID, sessionID string, messages []models.Message) error {
	transcript := transcript(messages)
	if transcript == "" {
		return nil
	}

	pieces := chunkText(transcript, f.cfg.TargetTokens, f.cfg.OverlapTokens, f.cfg.MaxChunkTokens)
	if len(pieces) == 0 {
		return nil
	}

	now := time.Now().UTC()
	chunks := make([]*models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &models.Chunk{
			ID:         models.NewID(),
			AgentID:    agentID,
			SessionID:  sessionID,
			Content:    piece,
			Importance: scoreImportance(piece),
			TokenCount: estimateTokens(piece),
			SourceType: models.SourceConversation,
			ChunkIndex: i,
			CreatedAt:  now,
		}
	}

	// Embedding failure is non-fatal: BM25 still works without vectors.
	if f.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := f.embedder.Embed(ctx, texts)
		if err != nil {
			f.logger.Warn("embedding batch failed, storing without vectors", "error", err)
		} else {
			for i, v := range vectors {
				chunks[i].Embedding = v
			}
		}
	}

	if err := f.store.Upsert(ctx, chunks); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	f.logger.Debug("conversation flushed",
		"agent_id", agentID, "session_id", sessionID, "chunks", len(chunks))
	return nil
}

// transcript flattens the conversation as "role: content" lines, system
// prompt excluded.
func transcript(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimSpace(b.String())
}

// chunkText splits text into word-boundary chunks of roughly target
// tokens with overlap tokens of lookback, hard-capped at max tokens.
func chunkText(text string, target, overlap, max int) []string {
	if target > max {
		target = max
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	// Rough words-per-token conversion: a token is ~4 chars, a word ~5.
	wordsPerChunk := target * 4 / 5
	if wordsPerChunk < 1 {
		wordsPerChunk = 1
	}
	overlapWords := overlap * 4 / 5

	var out []string
	for start := 0; start < len(words); {
		end := start + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		next := end - overlapWords
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// importance keyword signals.
var importanceKeywords = []string{
	"decided", "decision", "agreed", "will ", "must ", "todo",
	"action", "important", "fix", "bug", "error", "deploy", "deadline",
}

// scoreImportance applies the heuristic: keyword boosts, a code-fence
// boost, and a length floor, clamped to [0,1] by the store.
func scoreImportance(text string) float64 {
	score := 0.3
	lower := strings.ToLower(text)
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			score += 0.2
			break
		}
	}
	if strings.Contains(text, "```") {
		score += 0.15
	}
	if len(text) > 200 {
		score += 0.1
	}
	return score
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
