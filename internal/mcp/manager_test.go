package mcp

import (
	"context"
	"sort"
	"testing"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/vibecore-ai/vibecore/internal/tools"
)

func TestConnectRequiresNameAndCommand(t *testing.T) {
	m := NewManager(nil)
	registry := tools.NewRegistry()

	if err := m.Connect(context.Background(), ServerConfig{Command: "server"}, registry); err == nil {
		t.Error("missing name accepted")
	}
	if err := m.Connect(context.Background(), ServerConfig{Name: "fs"}, registry); err == nil {
		t.Error("missing command accepted")
	}
}

func TestConvertSchema(t *testing.T) {
	in := mcpproto.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"path":  map[string]any{"type": "string"},
			"depth": map[string]any{"type": "integer"},
		},
		Required: []string{"path"},
	}

	schema := convertSchema(in)
	if len(schema.Properties) != 2 {
		t.Errorf("properties = %v", schema.Properties)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "path" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestFlattenEnv(t *testing.T) {
	if flattenEnv(nil) != nil {
		t.Error("nil env should flatten to nil")
	}
	got := flattenEnv(map[string]string{"A": "1", "B": "2"})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("flattened = %v", got)
	}
}
