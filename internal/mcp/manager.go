// Package mcp connects external Model Context Protocol servers over stdio
// and exposes their tools to the engine under namespaced names.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/tools"
)

const protocolVersion = "2024-11-05"

// ServerConfig describes one stdio MCP server to launch.
type ServerConfig struct {
	// Name namespaces the server's tools as mcp__name__tool.
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Manager owns the connections to configured MCP servers for the lifetime
// of the process.
type Manager struct {
	logger *observability.Logger

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewManager returns a manager with no connections.
func NewManager(logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Manager{
		logger:  logger,
		clients: make(map[string]*client.Client),
	}
}

// Connect launches the server, performs the initialize handshake, and
// registers every tool it advertises into the registry under the mangled
// mcp__server__tool name.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig, registry *tools.Registry) error {
	if cfg.Name == "" || cfg.Command == "" {
		return fmt.Errorf("mcp server needs a name and a command")
	}

	m.mu.Lock()
	if _, exists := m.clients[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %q already connected", cfg.Name)
	}
	m.mu.Unlock()

	c, err := client.NewStdioMCPClient(cfg.Command, flattenEnv(cfg.Env), cfg.Args...)
	if err != nil {
		return fmt.Errorf("start mcp server %q: %w", cfg.Name, err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcpproto.Implementation{
		Name:    "vibecore",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize mcp server %q: %w", cfg.Name, err)
	}

	listResp, err := c.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools on %q: %w", cfg.Name, err)
	}

	registered := 0
	for _, remote := range listResp.Tools {
		t := &remoteTool{
			client: c,
			name:   remote.Name,
			desc:   remote.Description,
			schema: convertSchema(remote.InputSchema),
		}
		if err := registry.RegisterMCP(cfg.Name, t); err != nil {
			m.logger.Warn(ctx, "skipping mcp tool", "server", cfg.Name, "tool", remote.Name, "error", err)
			continue
		}
		registered++
	}

	m.mu.Lock()
	m.clients[cfg.Name] = c
	m.mu.Unlock()

	m.logger.Info(ctx, "connected to mcp server", "server", cfg.Name, "tools", registered)
	return nil
}

// Close shuts down every connected server. The first error wins.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for name, c := range m.clients {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("close mcp server %q: %w", name, err)
		}
		delete(m.clients, name)
	}
	return first
}

// remoteTool adapts one advertised MCP tool to the registry's Tool
// interface.
type remoteTool struct {
	client *client.Client
	name   string
	desc   string
	schema tools.Schema
}

func (t *remoteTool) Name() string         { return t.name }
func (t *remoteTool) Description() string  { return t.desc }
func (t *remoteTool) Schema() tools.Schema { return t.schema }

func (t *remoteTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return tools.Errorf("Error: %v", err), nil
		}
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("Error: mcp call failed: %v", err), nil
	}

	var text string
	for _, content := range resp.Content {
		if tc, ok := content.(mcpproto.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	if resp.IsError && text == "" {
		text = "Error: mcp tool failed"
	}
	return &tools.Result{Content: text, IsError: resp.IsError}, nil
}

func convertSchema(in mcpproto.ToolInputSchema) tools.Schema {
	schema := tools.Schema{Properties: map[string]any{}}

	// Round-trip to plain maps; the registry compiles these for validation.
	data, err := json.Marshal(in)
	if err != nil {
		return schema
	}
	var full map[string]any
	if err := json.Unmarshal(data, &full); err != nil {
		return schema
	}

	if props, ok := full["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := full["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
