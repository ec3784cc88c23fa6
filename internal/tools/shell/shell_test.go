package shell

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

func setup(t *testing.T) *BashTool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh not available on windows")
	}
	dir := t.TempDir()
	v, err := pathguard.NewValidator([]string{dir})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return NewBashTool(v, v.AllowedDirectories()[0])
}

func run(t *testing.T, tool *BashTool, argv map[string]any) *struct {
	Content string
	IsError bool
} {
	t.Helper()
	raw, _ := json.Marshal(argv)
	res, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return &struct {
		Content string
		IsError bool
	}{res.Content, res.IsError}
}

func TestBashEcho(t *testing.T) {
	tool := setup(t)
	res := run(t, tool, map[string]any{"command": "echo hello"})
	if res.IsError || !strings.Contains(res.Content, "hello") {
		t.Errorf("result = %+v", res)
	}
}

func TestBashPathViolation(t *testing.T) {
	tool := setup(t)
	res := run(t, tool, map[string]any{"command": "cat /etc/passwd"})
	if !res.IsError || !strings.HasPrefix(res.Content, "Error:") {
		t.Errorf("violation result = %+v", res)
	}
	if strings.Contains(res.Content, "root:") {
		t.Error("command executed despite violation")
	}
}

func TestBashNonZeroExit(t *testing.T) {
	tool := setup(t)
	res := run(t, tool, map[string]any{"command": "exit 3"})
	if !res.IsError || !strings.Contains(res.Content, "exit status") {
		t.Errorf("result = %+v", res)
	}
}

func TestBashTimeout(t *testing.T) {
	tool := setup(t)
	res := run(t, tool, map[string]any{"command": "sleep 5", "timeout": 50})
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("result = %+v", res)
	}
}

func TestBashRunsInWorkdir(t *testing.T) {
	tool := setup(t)
	res := run(t, tool, map[string]any{"command": "pwd"})
	if res.IsError || !strings.Contains(res.Content, tool.workdir) {
		t.Errorf("pwd = %+v, workdir %s", res, tool.workdir)
	}
}
