// Package todo implements the task-list tool. State is in-process only and
// reset when the session is cleared.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/vibecore-ai/vibecore/internal/tools"
)

type todoItem struct {
	Content string `json:"content" jsonschema_description:"Short description of the task"`
	Status  string `json:"status" jsonschema_description:"One of pending, in_progress, completed" jsonschema:"enum=pending,enum=in_progress,enum=completed"`
}

type todoArgs struct {
	Todos []todoItem `json:"todos" jsonschema_description:"The full updated task list"`
}

// Tool maintains the model's working task list for the session.
type Tool struct {
	mu    sync.Mutex
	items []todoItem
}

// New builds an empty todo tool.
func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string { return "todo" }

func (t *Tool) Description() string {
	return "Replace the working task list. Pass the complete list each time; it is shown to the user as progress."
}

func (t *Tool) Schema() tools.Schema { return tools.SchemaFor[todoArgs]() }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args todoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	for _, item := range args.Todos {
		switch item.Status {
		case "pending", "in_progress", "completed":
		default:
			return tools.Errorf("Error: unknown status %q", item.Status), nil
		}
	}

	t.mu.Lock()
	t.items = args.Todos
	rendered := t.renderLocked()
	t.mu.Unlock()

	return &tools.Result{Content: rendered}, nil
}

// Reset clears the list. Called when the session is cleared.
func (t *Tool) Reset() {
	t.mu.Lock()
	t.items = nil
	t.mu.Unlock()
}

// Render returns the current list in display form.
func (t *Tool) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renderLocked()
}

func (t *Tool) renderLocked() string {
	if len(t.items) == 0 {
		return "Todo list is empty."
	}
	var b strings.Builder
	for _, item := range t.items {
		marker := " "
		switch item.Status {
		case "in_progress":
			marker = ">"
		case "completed":
			marker = "x"
		}
		fmt.Fprintf(&b, "[%s] %s\n", marker, item.Content)
	}
	return b.String()
}
