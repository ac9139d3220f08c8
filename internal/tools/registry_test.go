package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentos/pkg/models"
)

func entryNamed(name string, source models.ToolSource) *Entry {
	return &Entry{
		Definition: models.ToolDefinition{Name: name, Description: name},
		Source:     source,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return name, nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(entryNamed("read_file", models.SourceBuiltin)); err != nil {
		t.Fatalf("register: %v", err)
	}

	entry, ok := r.Get("read_file")
	if !ok || entry.Definition.Name != "read_file" {
		t.Fatal("expected to find registered tool")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected entry for missing tool")
	}
}

func TestRegistry_ConflictAcrossSources(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(entryNamed("search", models.SourceBuiltin))

	err := r.Register(entryNamed("search", models.SourceMCP))
	if !errors.Is(err, ErrToolConflict) {
		t.Fatalf("expected ErrToolConflict, got %v", err)
	}
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		_ = r.Register(entryNamed(name, models.SourceBuiltin))
	}

	names := r.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(entryNamed("a", models.SourcePlugin))

	if !r.Remove("a") {
		t.Fatal("expected removal to succeed")
	}
	if r.Remove("a") {
		t.Fatal("double removal should report false")
	}
	if len(r.List()) != 0 {
		t.Fatal("expected empty registry")
	}
}
