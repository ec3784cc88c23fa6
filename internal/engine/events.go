// Package engine drives agent turns: it streams model responses, dispatches
// tools, persists session items, supervises sub-agents, and serializes user
// input into an ordered queue.
package engine

import (
	"context"

	"github.com/vibecore-ai/vibecore/internal/session"
)

// EventKind discriminates engine output events.
type EventKind string

const (
	EventUserText           EventKind = "user_text"
	EventTextDelta          EventKind = "text_delta"
	EventToolCallStarted    EventKind = "tool_call_started"
	EventToolCallCompleted  EventKind = "tool_call_completed"
	EventReasoningStarted   EventKind = "reasoning_started"
	EventReasoningCompleted EventKind = "reasoning_completed"
	EventMessageCompleted   EventKind = "message_completed"
	EventAgentHandoff       EventKind = "agent_handoff"
	EventSubAgent           EventKind = "sub_agent"
	EventError              EventKind = "error"
	EventTurnFinished       EventKind = "turn_finished"
	EventSystem             EventKind = "system"
)

// Event is the engine's output to the UI. Exactly one payload group is set
// for a given kind.
type Event struct {
	Kind EventKind

	// Text carries a TextDelta fragment, a full UserText or
	// MessageCompleted message, a ReasoningCompleted summary, a
	// TurnFinished final output, or a System notice.
	Text string

	// ToolCall payload for ToolCallStarted.
	ToolCall *ToolCallInfo
	// ToolOutput payload for ToolCallCompleted.
	ToolOutput *ToolOutputInfo

	// Handoff names the new agent for AgentHandoff.
	Handoff string

	// SubAgent wraps a child runner's event with its parent call id.
	SubAgent *SubAgentEvent

	// Err payload for Error events.
	Err *ErrorInfo

	// Usage is set on TurnFinished.
	Usage *Usage
}

// ToolCallInfo describes a model-requested tool invocation.
type ToolCallInfo struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolOutputInfo describes a completed tool invocation.
type ToolOutputInfo struct {
	CallID  string
	Output  string
	IsError bool
}

// SubAgentEvent nests a child event under the parent's tool call.
type SubAgentEvent struct {
	ParentCallID string
	Event        *Event
}

// ErrorInfo is the user-facing error payload.
type ErrorInfo struct {
	Kind   string
	Detail string
}

// Usage aggregates token counts for a turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Requests     int
}

// Sink receives engine events. Implementations must not block for long;
// the engine emits from the turn-driving goroutine.
type Sink func(Event)

// ItemStore is the session persistence the engine depends on. Satisfied by
// both the file-backed and the in-memory session stores.
type ItemStore interface {
	GetItems(ctx context.Context, limit int) ([]session.Item, error)
	AddItems(ctx context.Context, items ...session.Item) error
	PopItem(ctx context.Context) (*session.Item, error)
	Clear(ctx context.Context) error
}
