package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

type writeArgs struct {
	FilePath string `json:"file_path" jsonschema_description:"Absolute path of the file to write"`
	Content  string `json:"content" jsonschema_description:"Full new contents of the file"`
}

// WriteTool creates or overwrites a file.
type WriteTool struct {
	validator *pathguard.Validator
}

// NewWriteTool builds the write tool.
func NewWriteTool(v *pathguard.Validator) *WriteTool {
	return &WriteTool{validator: v}
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating it and any missing parent directories. Overwrites existing contents."
}

func (t *WriteTool) Schema() tools.Schema { return tools.SchemaFor[writeArgs]() }

func (t *WriteTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args writeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	path, err := t.validator.ValidatePath(args.FilePath)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	return &tools.Result{Content: fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), path)}, nil
}
