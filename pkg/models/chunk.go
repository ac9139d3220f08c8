package models

import "time"

// SourceType identifies where a memory chunk came from.
type SourceType string

const (
	SourceConversation SourceType = "conversation"
	SourceDocument     SourceType = "document"
)

// Chunk is a bounded-size unit of long-term episodic memory.
type Chunk struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	SessionID string     `json:"session_id,omitempty"`
	Content   string     `json:"content"`

	// Importance is clamped to [0,1] at write time.
	Importance float64 `json:"importance"`

	TokenCount int               `json:"token_count"`
	SourceType SourceType        `json:"source_type"`
	ChunkIndex int               `json:"chunk_index"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Embedding, when present, has the store's configured dimensionality.
	Embedding []float32 `json:"embedding,omitempty"`
}

// ClampImportance normalizes the importance score into [0,1].
func (c *Chunk) ClampImportance() {
	if c.Importance < 0 {
		c.Importance = 0
	}
	if c.Importance > 1 {
		c.Importance = 1
	}
}
