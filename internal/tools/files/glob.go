package files

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

const maxGlobResults = 500

type globArgs struct {
	Pattern string `json:"pattern" jsonschema_description:"Glob pattern to match file names against, e.g. *.go or cmd/*/main.go"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search in; defaults to the working directory"`
}

// GlobTool lists files matching a pattern, newest first.
type GlobTool struct {
	validator *pathguard.Validator
	workdir   string
}

// NewGlobTool builds the glob tool rooted at workdir.
func NewGlobTool(v *pathguard.Validator, workdir string) *GlobTool {
	return &GlobTool{validator: v, workdir: workdir}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files whose relative path matches a glob pattern. Matches against every file under the search directory."
}

func (t *GlobTool) Schema() tools.Schema { return tools.SchemaFor[globArgs]() }

func (t *GlobTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args globArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	base := args.Path
	if base == "" {
		base = t.workdir
	}
	root, err := t.validator.ValidatePath(base)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	type match struct {
		path  string
		mtime int64
	}
	var matches []match

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		ok, err := filepath.Match(args.Pattern, rel)
		if err != nil {
			return err
		}
		if !ok {
			// Also match the bare name so "*.go" works at any depth.
			if nameOK, _ := filepath.Match(args.Pattern, d.Name()); !nameOK {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, match{path: path, mtime: info.ModTime().UnixNano()})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("Error: %v", walkErr), nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].mtime > matches[j].mtime })
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
	}
	if len(matches) == 0 {
		return &tools.Result{Content: "No files matched."}, nil
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.path)
		b.WriteByte('\n')
	}
	return &tools.Result{Content: b.String()}, nil
}
