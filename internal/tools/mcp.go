package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentos/internal/tools/policy"
	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrToolValidation is returned when MCP tool arguments fail their schema.
var ErrToolValidation = errors.New("tool arguments failed validation")

// UseMCPToolName is the meta-tool surfacing unpinned MCP tools.
const UseMCPToolName = "use_mcp_tool"

// EffectiveEntries computes the tool set surfaced to an agent: policy-
// allowed entries, with MCP tools excluded unless pinned. When any
// allowed MCP tools remain unpinned, the use_mcp_tool meta-tool is
// appended so the agent can still reach them.
func EffectiveEntries(reg *Registry, eff *policy.Effective, mcpPinned []string) []*Entry {
	pinned := make(map[string]bool, len(mcpPinned))
	for _, name := range mcpPinned {
		pinned[name] = true
	}

	var out []*Entry
	hiddenMCP := false
	for _, entry := range reg.List() {
		name := entry.Definition.Name
		if name == UseMCPToolName {
			continue
		}
		if !eff.IsAllowed(name) {
			continue
		}
		if entry.Source == models.SourceMCP && !pinned[name] {
			hiddenMCP = true
			continue
		}
		out = append(out, entry)
	}

	if hiddenMCP {
		if meta, ok := reg.Get(UseMCPToolName); ok {
			out = append(out, meta)
		}
	}
	return out
}

// NewUseMCPTool builds the meta-tool. Its handler re-checks policy,
// validates the forwarded arguments against the target MCP tool's JSON
// schema, and dispatches to the managing MCP client's handler.
func NewUseMCPTool(reg *Registry, resolve func() *policy.Effective) *Entry {
	return &Entry{
		Definition: models.ToolDefinition{
			Name:        UseMCPToolName,
			Description: "Invoke an MCP-provided tool by name with JSON arguments.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tool_name": {"type": "string", "description": "Name of the MCP tool to invoke"},
					"arguments": {"type": "object", "description": "Arguments matching the tool's schema"}
				},
				"required": ["tool_name"]
			}`),
			Annotations: models.ToolAnnotations{RiskLevel: models.RiskYellow},
		},
		Source: models.SourceBuiltin,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name, _ := args["tool_name"].(string)
			if name == "" {
				return nil, fmt.Errorf("tool_name is required")
			}

			entry, ok := reg.Get(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
			}
			if entry.Source != models.SourceMCP {
				return nil, fmt.Errorf("%s is not an MCP tool", name)
			}
			if eff := resolve(); eff != nil && !eff.IsAllowed(name) {
				return nil, fmt.Errorf("tool %s is not permitted by policy", name)
			}

			forwarded, _ := args["arguments"].(map[string]any)
			if forwarded == nil {
				forwarded = map[string]any{}
			}
			if err := ValidateArguments(entry.Definition.InputSchema, forwarded); err != nil {
				return nil, err
			}
			return entry.Handler(ctx, forwarded)
		},
	}
}

// ValidateArguments checks args against a JSON schema. Failures name the
// violated property path and carry a one-line hint from the schema.
func ValidateArguments(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := jsonschema.CompileString("tool_schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}

	// Round-trip through JSON so numbers and nested maps take the shapes
	// the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}

	if err := compiled.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafCause(ve)
			loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if loc == "" {
				loc = "(root)"
			}
			return fmt.Errorf("%w: %s: %s", ErrToolValidation, loc, leaf.Message)
		}
		return fmt.Errorf("%w: %v", ErrToolValidation, err)
	}
	return nil
}

func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
