// Package provider adapts the engine's turn requests to the Anthropic
// Messages API: request construction, auth and identity header injection,
// prompt-cache annotation, and decoding of the SSE stream into typed chunks.
package provider

import (
	"context"
	"encoding/json"

	"github.com/vibecore-ai/vibecore/internal/session"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.anthropic.com"

// Request describes one model call for a turn.
type Request struct {
	Model       string
	MaxTokens   int64
	System      string
	History     []session.Item
	Tools       []ToolDef
	Temperature *float64
	Thinking    bool
}

// ToolDef is a model-visible tool definition. Properties and Required
// follow JSON-schema object conventions.
type ToolDef struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// ToolUse is a finalized tool invocation decoded from the stream. Input is
// complete JSON; partial fragments are assembled before emission.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Chunk is one decoded streaming event. Exactly one field group is set.
type Chunk struct {
	// Text is an incremental piece of the assistant message.
	Text string

	// ThinkingStart marks the beginning of a reasoning block.
	ThinkingStart bool
	// Thinking is an incremental piece of the reasoning summary.
	Thinking string
	// ThinkingDone carries the full reasoning summary once the block ends.
	ThinkingDone bool
	// ThinkingSummary is set together with ThinkingDone.
	ThinkingSummary string

	// ToolUse is a complete tool invocation request.
	ToolUse *ToolUse

	// Done marks normal stream completion and carries final usage.
	Done         bool
	InputTokens  int
	OutputTokens int

	// Error terminates the stream abnormally.
	Error error
}

// Client is the model transport the engine depends on. Stream sends one
// request and returns a channel of decoded chunks; the channel is closed
// after a Done or Error chunk.
type Client interface {
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}
