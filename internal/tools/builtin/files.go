// Package builtin registers the platform's built-in tools: workspace file
// access and risk-gated shell execution.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentos/internal/tools"
	"github.com/haasonsaas/agentos/pkg/models"
)

// FileTools builds the read_file, write_file, and list_dir entries rooted
// at workspace. Paths are resolved inside the workspace; escapes fail.
func FileTools(workspace string) []*tools.Entry {
	return []*tools.Entry{
		{
			Definition: models.ToolDefinition{
				Name:        "read_file",
				Description: "Read a UTF-8 text file from the agent workspace.",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "description": "Workspace-relative file path"}
					},
					"required": ["path"]
				}`),
				Annotations: models.ToolAnnotations{
					RiskLevel: models.RiskGreen,
					ReadOnly:  true,
					Idempotent: true,
				},
			},
			Source: models.SourceBuiltin,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				p, err := workspacePath(workspace, args)
				if err != nil {
					return nil, err
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", rel(workspace, p), err)
				}
				return string(data), nil
			},
		},
		{
			Definition: models.ToolDefinition{
				Name:        "write_file",
				Description: "Write a UTF-8 text file into the agent workspace, creating parent directories.",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "description": "Workspace-relative file path"},
						"content": {"type": "string", "description": "File content"}
					},
					"required": ["path", "content"]
				}`),
				Annotations: models.ToolAnnotations{
					RiskLevel:   models.RiskYellow,
					Destructive: true,
				},
			},
			Source: models.SourceBuiltin,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				p, err := workspacePath(workspace, args)
				if err != nil {
					return nil, err
				}
				content, _ := args["content"].(string)
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return nil, err
				}
				if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
					return nil, fmt.Errorf("write %s: %w", rel(workspace, p), err)
				}
				return fmt.Sprintf("wrote %d bytes to %s", len(content), rel(workspace, p)), nil
			},
		},
		{
			Definition: models.ToolDefinition{
				Name:        "list_dir",
				Description: "List entries of a workspace directory.",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "description": "Workspace-relative directory path", "default": "."}
					}
				}`),
				Annotations: models.ToolAnnotations{
					RiskLevel:  models.RiskGreen,
					ReadOnly:   true,
					Idempotent: true,
				},
			},
			Source: models.SourceBuiltin,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				if _, ok := args["path"]; !ok {
					args["path"] = "."
				}
				p, err := workspacePath(workspace, args)
				if err != nil {
					return nil, err
				}
				entries, err := os.ReadDir(p)
				if err != nil {
					return nil, fmt.Errorf("list %s: %w", rel(workspace, p), err)
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				sort.Strings(names)
				return names, nil
			},
		},
	}
}

// workspacePath resolves the "path" argument inside the workspace root.
func workspacePath(workspace string, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := filepath.Join(workspace, filepath.Clean("/"+raw))
	if !strings.HasPrefix(abs, filepath.Clean(workspace)+string(filepath.Separator)) && abs != filepath.Clean(workspace) {
		return "", fmt.Errorf("path escapes workspace: %s", raw)
	}
	return abs, nil
}

func rel(workspace, p string) string {
	if r, err := filepath.Rel(workspace, p); err == nil {
		return r
	}
	return p
}
