// Package shell implements the bash tool: validated shell commands executed
// with a timeout and truncated output.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

const (
	defaultTimeout = 2 * time.Minute
	maxTimeout     = 10 * time.Minute
	maxOutputBytes = 30 * 1024
)

type bashArgs struct {
	Command string `json:"command" jsonschema_description:"Shell command to execute"`
	Timeout int    `json:"timeout,omitempty" jsonschema_description:"Timeout in milliseconds (default 120000)"`
}

// BashTool runs shell commands after path-confinement scanning.
type BashTool struct {
	validator *pathguard.Validator
	workdir   string
}

// NewBashTool builds the bash tool running in workdir.
func NewBashTool(v *pathguard.Validator, workdir string) *BashTool {
	return &BashTool{validator: v, workdir: workdir}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command in the working directory and return its combined output. Paths in the command must stay inside the allowed directories."
}

func (t *BashTool) Schema() tools.Schema { return tools.SchemaFor[bashArgs]() }

func (t *BashTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args bashArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if args.Command == "" {
		return tools.Errorf("Error: command is empty"), nil
	}

	if err := t.validator.ValidateCommand(args.Command); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	timeout := defaultTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Millisecond
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", args.Command)
	cmd.Dir = t.workdir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	content := out.String()
	if len(content) > maxOutputBytes {
		content = content[:maxOutputBytes] + "\n... (output truncated)"
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return tools.Errorf("Error: command timed out after %s\n%s", timeout, content), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return &tools.Result{
			Content: fmt.Sprintf("%s\nexit status: %v", content, err),
			IsError: true,
		}, nil
	}
	return &tools.Result{Content: content}, nil
}
