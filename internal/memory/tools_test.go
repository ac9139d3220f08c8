package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/pkg/models"
)

func toolByName(t *testing.T, entries []*tools.Entry, name string) *tools.Entry {
	t.Helper()
	for _, e := range entries {
		if e.Definition.Name == name {
			return e
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestMemorySearchTool(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []*models.Chunk{
		{AgentID: "coder", Content: "the staging cluster uses postgres 16", Importance: 0.7},
		{AgentID: "other", Content: "postgres tips for a different agent"},
	})

	entries := Tools(s, nil, "coder")
	search := toolByName(t, entries, "memory_search")

	if search.Definition.Annotations.RiskLevel != models.RiskGreen || !search.Definition.Annotations.ReadOnly {
		t.Error("memory_search should be green and read-only")
	}

	out, err := search.Handler(ctx, map[string]any{"query": "postgres staging"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	text := out.(string)
	if !strings.Contains(text, "postgres 16") {
		t.Errorf("expected own chunk in output, got %q", text)
	}
	if strings.Contains(text, "different agent") {
		t.Errorf("foreign chunk leaked: %q", text)
	}
}

func TestMemorySearchTool_EmbedsQuery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []*models.Chunk{
		{AgentID: "coder", Content: "vector indexed note", Embedding: []float32{1, 0, 0}},
	})

	embedder := &fakeEmbedder{dim: 3}
	search := toolByName(t, Tools(s, embedder, "coder"), "memory_search")

	if _, err := search.Handler(ctx, map[string]any{"query": "note"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if embedder.calls != 1 {
		t.Errorf("query should be embedded once, got %d calls", embedder.calls)
	}
}

func TestMemorySearchTool_NoResults(t *testing.T) {
	s := testStore(t)
	search := toolByName(t, Tools(s, nil, "coder"), "memory_search")

	out, err := search.Handler(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if out != "No matching memories found." {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := search.Handler(context.Background(), map[string]any{}); err == nil {
		t.Error("missing query should error")
	}
}

func TestMemoryGetTool(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mine := &models.Chunk{AgentID: "coder", Content: "my fact"}
	theirs := &models.Chunk{AgentID: "other", Content: "their fact"}
	s.Upsert(ctx, []*models.Chunk{mine, theirs})

	get := toolByName(t, Tools(s, nil, "coder"), "memory_get")

	out, err := get.Handler(ctx, map[string]any{"id": mine.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "my fact" {
		t.Errorf("unexpected content %q", out)
	}

	// A foreign chunk looks exactly like a missing one.
	if _, err := get.Handler(ctx, map[string]any{"id": theirs.ID}); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("cross-agent read should report not found, got %v", err)
	}
}
