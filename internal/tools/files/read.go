// Package files implements the filesystem tools. Every path is routed
// through the path validator before any I/O happens.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

// Output caps keep tool results within a model-friendly size.
const (
	maxReadBytes  = 256 * 1024
	maxReadLines  = 2000
	maxMatchLines = 500
)

type readArgs struct {
	FilePath string `json:"file_path" jsonschema_description:"Absolute path of the file to read"`
	Offset   int    `json:"offset,omitempty" jsonschema_description:"1-based line to start reading from"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of lines to return"`
}

// ReadTool returns file contents, optionally a line window.
type ReadTool struct {
	validator *pathguard.Validator
}

// NewReadTool builds the read tool.
func NewReadTool(v *pathguard.Validator) *ReadTool {
	return &ReadTool{validator: v}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the local filesystem. Supports an optional line offset and limit for large files."
}

func (t *ReadTool) Schema() tools.Schema { return tools.SchemaFor[readArgs]() }

func (t *ReadTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args readArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	path, err := t.validator.ValidatePath(args.FilePath)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if args.Offset > 1 {
		start = args.Offset - 1
		if start >= len(lines) {
			return tools.Errorf("Error: offset %d is past the end of the file (%d lines)", args.Offset, len(lines)), nil
		}
	}
	limit := args.Limit
	if limit <= 0 || limit > maxReadLines {
		limit = maxReadLines
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-end)
	}
	return &tools.Result{Content: b.String()}, nil
}
