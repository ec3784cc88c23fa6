// Package pathguard confines tool filesystem access to a set of allowed
// directories and scans shell commands for paths that would escape them.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathOutsideAllowed is the sentinel for every confinement failure.
var ErrPathOutsideAllowed = errors.New("path outside allowed directories")

// Validator checks candidate paths against a fixed set of allowed
// directories. Allowed roots are resolved through symlinks at construction;
// candidates are resolved at check time so a symlink inside an allowed tree
// cannot point out of it.
type Validator struct {
	allowed []string
	home    string
}

// NewValidator builds a validator over the given directories. Relative
// entries are made absolute against the current working directory.
func NewValidator(dirs []string) (*Validator, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one allowed directory is required")
	}

	home, _ := os.UserHomeDir()

	v := &Validator{home: home}
	for _, dir := range dirs {
		abs, err := filepath.Abs(expandHome(dir, home))
		if err != nil {
			return nil, fmt.Errorf("resolve allowed directory %q: %w", dir, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			if os.IsNotExist(err) {
				resolved = abs
			} else {
				return nil, fmt.Errorf("resolve allowed directory %q: %w", dir, err)
			}
		}
		v.allowed = append(v.allowed, filepath.Clean(resolved))
	}
	return v, nil
}

// AllowedDirectories returns the resolved allowed roots.
func (v *Validator) AllowedDirectories() []string {
	out := make([]string, len(v.allowed))
	copy(out, v.allowed)
	return out
}

// ValidatePath resolves a candidate path (tilde expansion, absolutization,
// symlink resolution of the longest existing prefix) and returns the
// resolved form if it falls under an allowed directory.
func (v *Validator) ValidatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("Path is empty: %w", ErrPathOutsideAllowed)
	}

	expanded := expandHome(path, v.home)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("Path %q could not be resolved: %w", path, ErrPathOutsideAllowed)
	}

	resolved := resolveExisting(filepath.Clean(abs))
	for _, root := range v.allowed {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("Path %q is outside the allowed directories: %w", path, ErrPathOutsideAllowed)
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// resolveExisting resolves symlinks over the longest prefix of the path
// that exists, then re-appends the remainder. A target that does not exist
// yet (a file about to be written) is still confined by its parent.
func resolveExisting(path string) string {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if remainder == "" {
				return resolved
			}
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		if remainder == "" {
			remainder = filepath.Base(current)
		} else {
			remainder = filepath.Join(filepath.Base(current), remainder)
		}
		current = parent
	}
}
