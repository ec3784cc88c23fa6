package todo

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestTodoTool(t *testing.T) {
	tool := New()

	raw, _ := json.Marshal(map[string]any{
		"todos": []map[string]string{
			{"content": "write tests", "status": "completed"},
			{"content": "ship it", "status": "in_progress"},
			{"content": "celebrate", "status": "pending"},
		},
	})
	res, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "[x] write tests") ||
		!strings.Contains(res.Content, "[>] ship it") ||
		!strings.Contains(res.Content, "[ ] celebrate") {
		t.Errorf("rendered = %q", res.Content)
	}

	tool.Reset()
	if got := tool.Render(); !strings.Contains(got, "empty") {
		t.Errorf("after reset = %q", got)
	}
}

func TestTodoToolRejectsUnknownStatus(t *testing.T) {
	tool := New()
	raw, _ := json.Marshal(map[string]any{
		"todos": []map[string]string{{"content": "x", "status": "someday"}},
	})
	res, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("unknown status should be rejected")
	}
}
