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

type editArgs struct {
	FilePath   string `json:"file_path" jsonschema_description:"Absolute path of the file to edit"`
	OldString  string `json:"old_string" jsonschema_description:"Exact text to replace"`
	NewString  string `json:"new_string" jsonschema_description:"Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema_description:"Replace every occurrence instead of requiring a unique match"`
}

// EditTool performs exact string replacement in a file.
type EditTool struct {
	validator *pathguard.Validator
}

// NewEditTool builds the edit tool.
func NewEditTool(v *pathguard.Validator) *EditTool {
	return &EditTool{validator: v}
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. The string must match exactly once unless replace_all is set."
}

func (t *EditTool) Schema() tools.Schema { return tools.SchemaFor[editArgs]() }

func (t *EditTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args editArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if args.OldString == args.NewString {
		return tools.Errorf("Error: old_string and new_string are identical"), nil
	}

	path, err := t.validator.ValidatePath(args.FilePath)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	content := string(data)

	count := strings.Count(content, args.OldString)
	switch {
	case count == 0:
		return tools.Errorf("Error: old_string not found in %s", path), nil
	case count > 1 && !args.ReplaceAll:
		return tools.Errorf("Error: old_string matches %d times in %s; provide more context or set replace_all", count, path), nil
	}

	replaced := count
	if args.ReplaceAll {
		content = strings.ReplaceAll(content, args.OldString, args.NewString)
	} else {
		content = strings.Replace(content, args.OldString, args.NewString, 1)
		replaced = 1
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	return &tools.Result{Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path)}, nil
}
