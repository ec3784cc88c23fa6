package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/provider"
)

// MCPPrefix namespaces tools imported from external servers. A tool T on
// server S is exposed to the model as mcp__S__T.
const MCPPrefix = "mcp__"

// Registry holds the tool set for a session. It is populated at startup
// and read-only afterwards.
type Registry struct {
	tools   map[string]*registered
	order   []string
	logger  *observability.Logger
	metrics *observability.Metrics
}

type registered struct {
	tool   Tool
	schema *jsonschemav5.Schema
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *observability.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the registry's metrics.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]*registered),
		logger: observability.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool under its own name.
func (r *Registry) Register(tool Tool) error {
	return r.register(tool.Name(), tool)
}

// RegisterMCP adds an external server's tool under the mangled name
// mcp__server__tool.
func (r *Registry) RegisterMCP(server string, tool Tool) error {
	return r.register(MangleMCPName(server, tool.Name()), tool)
}

func (r *Registry) register(name string, tool Tool) error {
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	doc, err := tool.Schema().ValidationDocument()
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	compiled, err := jsonschemav5.CompileString(name+".schema.json", string(doc))
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}

	r.tools[name] = &registered{tool: tool, schema: compiled}
	r.order = append(r.order, name)
	return nil
}

// MangleMCPName builds the model-visible name for an external tool.
func MangleMCPName(server, tool string) string {
	return MCPPrefix + server + "__" + tool
}

// DemangleMCPName splits a mangled name into server and tool. ok is false
// for native tool names.
func DemangleMCPName(name string) (server, tool string, ok bool) {
	if !strings.HasPrefix(name, MCPPrefix) {
		return "", "", false
	}
	rest := name[len(MCPPrefix):]
	server, tool, ok = strings.Cut(rest, "__")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Definitions renders the model-visible tool definitions, restricted to
// the given allow-list when non-nil. Unknown allowed names are skipped.
func (r *Registry) Definitions(allowed []string) []provider.ToolDef {
	names := r.order
	if allowed != nil {
		names = allowed
	}

	defs := make([]provider.ToolDef, 0, len(names))
	for _, name := range names {
		entry, ok := r.tools[name]
		if !ok {
			continue
		}
		schema := entry.tool.Schema()
		defs = append(defs, provider.ToolDef{
			Name:        name,
			Description: entry.tool.Description(),
			Properties:  schema.Properties,
			Required:    schema.Required,
		})
	}
	return defs
}

// Execute validates arguments against the tool's schema and dispatches.
// Bad arguments and handler failures become error Results so the model can
// correct itself; only cancellation and unknown internal faults propagate
// as Go errors.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	entry, ok := r.tools[name]
	if !ok {
		r.count(name, "unknown")
		return Errorf("Error: unknown tool %q", name), nil
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		r.count(name, "invalid_args")
		return Errorf("Error: arguments are not valid JSON: %v", err), nil
	}
	if err := entry.schema.Validate(decoded); err != nil {
		r.count(name, "invalid_args")
		return Errorf("Error: invalid arguments for %s: %v", name, err), nil
	}

	result, err := entry.tool.Execute(ctx, args)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.count(name, "cancelled")
			return nil, err
		}
		r.count(name, "error")
		return Errorf("Error: %v", err), nil
	}

	if result == nil {
		result = &Result{}
	}
	if result.IsError {
		r.count(name, "tool_error")
	} else {
		r.count(name, "ok")
	}
	return result, nil
}

func (r *Registry) count(name, outcome string) {
	if r.metrics != nil {
		r.metrics.ToolExecutions.WithLabelValues(name, outcome).Inc()
	}
}

// Subset returns the registered names except the excluded ones, sorted for
// stable sub-agent tool lists.
func (r *Registry) Subset(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	var out []string
	for _, name := range r.order {
		if !skip[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
