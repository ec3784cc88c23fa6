package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Info describes a stored session for listing and resume.
type Info struct {
	ID      string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListSessions returns the sessions recorded for a project, most recently
// modified first.
func ListSessions(baseDir, projectPath string) ([]Info, error) {
	dir := filepath.Join(baseDir, "projects", CanonicalizeProject(projectPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:      strings.TrimSuffix(name, ".jsonl"),
			Path:    filepath.Join(dir, name),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModTime.After(infos[j].ModTime)
	})
	return infos, nil
}

// MostRecent returns the most recently modified session for a project, or
// ErrSessionNotFound when the project has none.
func MostRecent(baseDir, projectPath string) (Info, error) {
	infos, err := ListSessions(baseDir, projectPath)
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, ErrSessionNotFound
	}
	return infos[0], nil
}

// CheckReplay verifies that a loaded history is safe to continue from:
// every tool call must have a matching output. A dangling call means the
// recorded turn was interrupted mid-write and the file needs inspection.
func CheckReplay(items []Item) error {
	open := make(map[string]bool)
	for _, it := range items {
		switch it.Kind {
		case KindToolCall:
			open[it.ToolCall.CallID] = true
		case KindToolOutput:
			delete(open, it.ToolOutput.CallID)
		}
	}
	if len(open) > 0 {
		ids := make([]string, 0, len(open))
		for id := range open {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return fmt.Errorf("%w: %s", ErrUnpairedToolCall, strings.Join(ids, ", "))
	}
	return nil
}
