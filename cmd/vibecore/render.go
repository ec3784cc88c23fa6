package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vibecore-ai/vibecore/internal/engine"
)

const (
	maxArgsPreview   = 120
	maxOutputPreview = 6
)

// renderer writes engine events to the terminal. Tool output and sub-agent
// chatter are summarized; assistant text streams through verbatim.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	inText bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case engine.EventUserText:
		// Echoed by the terminal as the user types; printed only on replay.
	case engine.EventTextDelta:
		fmt.Fprint(r.out, ev.Text)
		r.inText = true
	case engine.EventMessageCompleted:
		r.breakLine()
	case engine.EventReasoningStarted:
		r.breakLine()
		fmt.Fprintln(r.out, "[thinking]")
	case engine.EventReasoningCompleted:
	case engine.EventToolCallStarted:
		r.breakLine()
		fmt.Fprintf(r.out, "[%s] %s\n", ev.ToolCall.Name, truncate(ev.ToolCall.Arguments, maxArgsPreview))
	case engine.EventToolCallCompleted:
		r.printOutput(ev.ToolOutput)
	case engine.EventAgentHandoff:
		r.breakLine()
		fmt.Fprintf(r.out, "[agent] now talking to %s\n", ev.Handoff)
	case engine.EventSubAgent:
		r.printSubAgent(ev.SubAgent)
	case engine.EventError:
		r.breakLine()
		fmt.Fprintf(r.out, "[error] %s: %s\n", ev.Err.Kind, ev.Err.Detail)
	case engine.EventTurnFinished:
		r.breakLine()
		if ev.Usage != nil && ev.Usage.Requests > 0 {
			fmt.Fprintf(r.out, "(%d in / %d out tokens)\n", ev.Usage.InputTokens, ev.Usage.OutputTokens)
		}
	case engine.EventSystem:
		r.breakLine()
		fmt.Fprintf(r.out, "[system] %s\n", ev.Text)
	}
}

// replay renders a stored session the way a live one would have looked.
func (r *renderer) replay(ev engine.Event) {
	if ev.Kind == engine.EventUserText {
		r.mu.Lock()
		fmt.Fprintf(r.out, "> %s\n", ev.Text)
		r.mu.Unlock()
		return
	}
	if ev.Kind == engine.EventMessageCompleted {
		r.mu.Lock()
		fmt.Fprintln(r.out, ev.Text)
		r.mu.Unlock()
		return
	}
	r.handle(ev)
}

func (r *renderer) printOutput(out *engine.ToolOutputInfo) {
	lines := strings.Split(strings.TrimRight(out.Output, "\n"), "\n")
	shown := lines
	if len(shown) > maxOutputPreview {
		shown = shown[:maxOutputPreview]
	}
	for _, line := range shown {
		fmt.Fprintf(r.out, "  %s\n", line)
	}
	if len(lines) > maxOutputPreview {
		fmt.Fprintf(r.out, "  ... (%d more lines)\n", len(lines)-maxOutputPreview)
	}
}

func (r *renderer) printSubAgent(sub *engine.SubAgentEvent) {
	// Only the child's milestones surface; its deltas would interleave
	// with the parent's output.
	switch sub.Event.Kind {
	case engine.EventToolCallStarted:
		fmt.Fprintf(r.out, "  [task:%s] %s\n", sub.ParentCallID, sub.Event.ToolCall.Name)
	case engine.EventTurnFinished:
		fmt.Fprintf(r.out, "  [task:%s] finished\n", sub.ParentCallID)
	case engine.EventError:
		fmt.Fprintf(r.out, "  [task:%s] error: %s\n", sub.ParentCallID, sub.Event.Err.Detail)
	}
}

func (r *renderer) breakLine() {
	if r.inText {
		fmt.Fprintln(r.out)
		r.inText = false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
