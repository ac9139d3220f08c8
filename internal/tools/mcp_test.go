package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/agentos/internal/tools/policy"
	"github.com/haasonsaas/agentos/pkg/models"
)

func mcpEntry(name string) *Entry {
	return &Entry{
		Definition: models.ToolDefinition{
			Name:        name,
			Description: "remote " + name,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1}
				},
				"required": ["query"]
			}`),
		},
		Source:    models.SourceMCP,
		MCPServer: "search-server",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "mcp:" + args["query"].(string), nil
		},
	}
}

func allowAll() *policy.Effective {
	return policy.NewResolver().Resolve(&policy.Rules{Allow: []string{"*"}})
}

func TestEffectiveEntries_MCPGating(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(entryNamed("read_file", models.SourceBuiltin))
	_ = r.Register(mcpEntry("web_search"))
	_ = r.Register(mcpEntry("web_fetch"))
	_ = r.Register(NewUseMCPTool(r, allowAll))

	entries := EffectiveEntries(r, allowAll(), []string{"web_search"})

	var names []string
	for _, e := range entries {
		names = append(names, e.Definition.Name)
	}

	has := func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
	if !has("read_file") || !has("web_search") {
		t.Errorf("builtin and pinned MCP tools should surface: %v", names)
	}
	if has("web_fetch") {
		t.Errorf("unpinned MCP tool must not surface directly: %v", names)
	}
	if !has(UseMCPToolName) {
		t.Errorf("meta-tool should surface while unpinned MCP tools remain: %v", names)
	}
}

func TestEffectiveEntries_NoMetaToolWithoutHiddenMCP(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(entryNamed("read_file", models.SourceBuiltin))
	_ = r.Register(NewUseMCPTool(r, allowAll))

	entries := EffectiveEntries(r, allowAll(), nil)
	for _, e := range entries {
		if e.Definition.Name == UseMCPToolName {
			t.Error("meta-tool should not surface when no MCP tools are hidden")
		}
	}
}

func TestUseMCPTool_ForwardsValidCall(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mcpEntry("web_search"))
	meta := NewUseMCPTool(r, allowAll)

	out, err := meta.Handler(context.Background(), map[string]any{
		"tool_name": "web_search",
		"arguments": map[string]any{"query": "golang", "limit": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "mcp:golang" {
		t.Errorf("unexpected output %v", out)
	}
}

func TestUseMCPTool_SchemaViolationNamesProperty(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mcpEntry("web_search"))
	meta := NewUseMCPTool(r, allowAll)

	_, err := meta.Handler(context.Background(), map[string]any{
		"tool_name": "web_search",
		"arguments": map[string]any{"query": "golang", "limit": 0},
	})
	if !errors.Is(err, ErrToolValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error should name the violated property: %v", err)
	}
}

func TestUseMCPTool_MissingRequiredArgument(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mcpEntry("web_search"))
	meta := NewUseMCPTool(r, allowAll)

	_, err := meta.Handler(context.Background(), map[string]any{
		"tool_name": "web_search",
		"arguments": map[string]any{},
	})
	if !errors.Is(err, ErrToolValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUseMCPTool_PolicyRecheck(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mcpEntry("web_search"))

	denied := policy.NewResolver().Resolve(&policy.Rules{
		Allow: []string{"*"},
		Deny:  []string{"web_search"},
	})
	meta := NewUseMCPTool(r, func() *policy.Effective { return denied })

	_, err := meta.Handler(context.Background(), map[string]any{
		"tool_name": "web_search",
		"arguments": map[string]any{"query": "x"},
	})
	if err == nil || !strings.Contains(err.Error(), "not permitted") {
		t.Fatalf("expected policy denial, got %v", err)
	}
}

func TestUseMCPTool_RejectsNonMCPTool(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(entryNamed("read_file", models.SourceBuiltin))
	meta := NewUseMCPTool(r, allowAll)

	_, err := meta.Handler(context.Background(), map[string]any{
		"tool_name": "read_file",
	})
	if err == nil || !strings.Contains(err.Error(), "not an MCP tool") {
		t.Fatalf("expected rejection, got %v", err)
	}
}
