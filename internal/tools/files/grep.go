package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
)

type grepArgs struct {
	Pattern string `json:"pattern" jsonschema_description:"Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory or file to search; defaults to the working directory"`
	Include string `json:"include,omitempty" jsonschema_description:"Glob filter on file names, e.g. *.go"`
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	validator *pathguard.Validator
	workdir   string
}

// NewGrepTool builds the grep tool rooted at workdir.
func NewGrepTool(v *pathguard.Validator, workdir string) *GrepTool {
	return &GrepTool{validator: v, workdir: workdir}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression and return matching lines as path:line:text."
}

func (t *GrepTool) Schema() tools.Schema { return tools.SchemaFor[grepArgs]() }

func (t *GrepTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args grepArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return tools.Errorf("Error: invalid pattern: %v", err), nil
	}

	base := args.Path
	if base == "" {
		base = t.workdir
	}
	root, err := t.validator.ValidatePath(base)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	var b strings.Builder
	total := 0

	scanFile := func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(&b, "%s:%d:%s\n", path, lineNo, strings.TrimSpace(line))
			total++
			if total >= maxMatchLines {
				return fs.SkipAll
			}
		}
		return nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if !info.IsDir() {
		if err := scanFile(root); err != nil && err != fs.SkipAll {
			return tools.Errorf("Error: %v", err), nil
		}
	} else {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if args.Include != "" {
				if ok, _ := filepath.Match(args.Include, d.Name()); !ok {
					return nil
				}
			}
			return scanFile(path)
		})
		if walkErr != nil && walkErr != fs.SkipAll {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return tools.Errorf("Error: %v", walkErr), nil
		}
	}

	if total == 0 {
		return &tools.Result{Content: "No matches."}, nil
	}
	if total >= maxMatchLines {
		fmt.Fprintf(&b, "... (truncated at %d matches)\n", maxMatchLines)
	}
	return &tools.Result{Content: b.String()}, nil
}
