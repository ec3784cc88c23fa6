package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibecore-ai/vibecore/internal/observability"
)

// DefaultLockTimeout bounds how long a store operation waits for the
// session file lock.
const DefaultLockTimeout = 30 * time.Second

// maxLineBytes bounds a single session line. Tool outputs are truncated well
// below this by the tool layer.
const maxLineBytes = 16 * 1024 * 1024

// Store is a file-backed session item log. All operations take the session
// lock: exclusive for mutations, shared for reads.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *observability.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout overrides the default 30s lock acquisition timeout.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger used to report skipped corrupt lines.
func WithLogger(l *observability.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// ValidateSessionID rejects ids that could escape the project directory.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// CanonicalizeProject maps a project path to a single directory name:
// path separators become dashes, colons are dropped, and leading or
// trailing dashes are stripped. An empty result canonicalizes to "root".
// The mapping is idempotent.
func CanonicalizeProject(projectPath string) string {
	var b strings.Builder
	for _, r := range projectPath {
		switch r {
		case '/', '\\':
			b.WriteByte('-')
		case ':':
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "root"
	}
	return out
}

// SessionPath returns the on-disk path for a session without creating it.
func SessionPath(baseDir, projectPath, sessionID string) string {
	return filepath.Join(baseDir, "projects", CanonicalizeProject(projectPath), sessionID+".jsonl")
}

// NewStore creates a store for the given session, creating the project
// directory if needed. The session file itself is created lazily on the
// first append.
func NewStore(baseDir, projectPath, sessionID string, opts ...StoreOption) (*Store, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	path := SessionPath(baseDir, projectPath, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	s := &Store{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: DefaultLockTimeout,
		logger:      observability.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the session file has been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// GetItems returns the session items in append order. A positive limit
// returns only the last limit items. Corrupt lines are logged and skipped;
// unknown shapes are returned as KindUnknown items in order.
func (s *Store) GetItems(ctx context.Context, limit int) ([]Item, error) {
	lock, err := acquireLock(s.lockPath, false, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var it Item
		if err := json.Unmarshal(line, &it); err != nil {
			s.logger.Warn(ctx, "skipping corrupt session line",
				"path", s.path, "line", lineNo, "error", err)
			continue
		}
		items = append(items, it)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

// AddItems appends items to the session in a single locked write. Callers
// that must keep related items adjacent (a tool call and its output) pass
// them together.
func (s *Store) AddItems(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, it := range items {
		line, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	lock, err := acquireLock(s.lockPath, true, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return f.Sync()
}

// PopItem removes and returns the last item, or nil if the session is
// empty. The file is rewritten through a temp file and rename so a crash
// never leaves a partial log.
func (s *Store) PopItem(ctx context.Context) (*Item, error) {
	lock, err := acquireLock(s.lockPath, true, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, nil
	}

	last := lines[len(lines)-1]
	var it Item
	if err := json.Unmarshal(last, &it); err != nil {
		s.logger.Warn(ctx, "popped corrupt session line", "path", s.path, "error", err)
		it = Item{Kind: KindUnknown, Raw: append(json.RawMessage(nil), last...)}
	}

	var buf bytes.Buffer
	for _, line := range lines[:len(lines)-1] {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return nil, err
	}
	return &it, nil
}

// Clear removes the session file. The store remains usable; a subsequent
// append recreates the file.
func (s *Store) Clear(ctx context.Context) error {
	lock, err := acquireLock(s.lockPath, true, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}
