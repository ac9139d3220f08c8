package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/pkg/models"
)

// Tools exposes memory_search and memory_get to the agent. The agent ID
// scopes every lookup; agents cannot read each other's memory.
func Tools(store *Store, embedder Embedder, agentID string) []*tools.Entry {
	return []*tools.Entry{
		searchTool(store, embedder, agentID),
		getTool(store, agentID),
	}
}

func searchTool(store *Store, embedder Embedder, agentID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "memory_search",
			Description: "Search long-term memory for relevant past context. Returns the best-matching chunks with IDs and scores.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What to look for"},
					"limit": {"type": "integer", "description": "Maximum results (default 5)"},
					"min_importance": {"type": "number", "description": "Importance floor in [0,1]"}
				},
				"required": ["query"]
			}`),
			Annotations: models.ToolAnnotations{
				RiskLevel: models.RiskGreen,
				ReadOnly:  true,
			},
		},
		Source: models.SourceMemory,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			limit := 5
			if raw, ok := args["limit"].(float64); ok && raw > 0 {
				limit = int(raw)
			}
			minImportance := 0.0
			if raw, ok := args["min_importance"].(float64); ok {
				minImportance = raw
			}

			opts := SearchOptions{
				AgentID:       agentID,
				Query:         query,
				Limit:         limit,
				MinImportance: minImportance,
			}
			if embedder != nil {
				if vectors, err := embedder.Embed(ctx, []string{query}); err == nil && len(vectors) == 1 {
					opts.Embedding = vectors[0]
				}
			}

			results, err := store.Search(ctx, opts)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return "No matching memories found.", nil
			}

			var b strings.Builder
			for i, r := range results {
				fmt.Fprintf(&b, "%d. [%s] (score %.2f, importance %.2f)\n%s\n",
					i+1, r.Chunk.ID, r.Score, r.Chunk.Importance, r.Chunk.Content)
			}
			return b.String(), nil
		},
	}
}

func getTool(store *Store, agentID string) *tools.Entry {
	return &tools.Entry{
		Definition: models.ToolDefinition{
			Name:        "memory_get",
			Description: "Fetch one memory chunk by its ID.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Chunk ID from memory_search"}
				},
				"required": ["id"]
			}`),
			Annotations: models.ToolAnnotations{
				RiskLevel: models.RiskGreen,
				ReadOnly:  true,
			},
		},
		Source: models.SourceMemory,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			chunk, err := store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if chunk.AgentID != agentID {
				return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
			}
			return chunk.Content, nil
		},
	}
}
