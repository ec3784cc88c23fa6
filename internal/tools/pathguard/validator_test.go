package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestValidator(t *testing.T) (*Validator, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := NewValidator([]string{dir})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	// The temp dir itself may sit behind symlinks (macOS /var -> /private/var).
	resolved := v.AllowedDirectories()[0]
	return v, resolved
}

func TestValidatePathInside(t *testing.T) {
	v, dir := newTestValidator(t)

	got, err := v.ValidatePath(filepath.Join(dir, "sub", "file.txt"))
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if got != filepath.Join(dir, "sub", "file.txt") {
		t.Errorf("resolved = %q", got)
	}
}

func TestValidatePathOutside(t *testing.T) {
	v, _ := newTestValidator(t)

	for _, p := range []string{"/etc/passwd", "/", os.TempDir()} {
		if _, err := v.ValidatePath(p); !errors.Is(err, ErrPathOutsideAllowed) {
			t.Errorf("ValidatePath(%q) = %v, want ErrPathOutsideAllowed", p, err)
		}
	}
}

func TestValidatePathTraversal(t *testing.T) {
	v, dir := newTestValidator(t)

	if _, err := v.ValidatePath(filepath.Join(dir, "..", "other")); !errors.Is(err, ErrPathOutsideAllowed) {
		t.Errorf("traversal accepted: %v", err)
	}
	// Traversal that stays inside is fine.
	if _, err := v.ValidatePath(filepath.Join(dir, "a", "..", "b")); err != nil {
		t.Errorf("inside traversal rejected: %v", err)
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	v, dir := newTestValidator(t)

	outside := t.TempDir()
	link := filepath.Join(dir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := v.ValidatePath(filepath.Join(link, "secret.txt")); !errors.Is(err, ErrPathOutsideAllowed) {
		t.Errorf("symlink escape accepted: %v", err)
	}
}

func TestValidatePathNonexistentTargetConfinedByParent(t *testing.T) {
	v, dir := newTestValidator(t)

	if _, err := v.ValidatePath(filepath.Join(dir, "new", "deep", "file.txt")); err != nil {
		t.Errorf("not-yet-existing target inside allowed dir rejected: %v", err)
	}
}

func TestValidatePathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	v, err := NewValidator([]string{home})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if _, err := v.ValidatePath("~/notes.txt"); err != nil {
		t.Errorf("~ inside allowed home rejected: %v", err)
	}

	restricted, _ := newTestValidator(t)
	if _, err := restricted.ValidatePath("~/notes.txt"); !errors.Is(err, ErrPathOutsideAllowed) {
		t.Errorf("~ outside allowed dirs accepted: %v", err)
	}
}

func TestValidateCommandPathArguments(t *testing.T) {
	v, dir := newTestValidator(t)
	inside := filepath.Join(dir, "f.txt")

	ok := []string{
		"cat " + inside,
		"ls " + dir,
		"echo hello world",
		"grep pattern " + inside,
		"cat " + inside + " | grep foo",
		"cat " + inside + " | wc -l",
		"curl https://example.com/data",
		"git clone ssh://git@example.com/repo.git",
		"scp " + inside + " user@host:/remote/path",
		"cat <<EOF",
		"cat << EOF",
		"sort <<< inline-data",
	}
	for _, cmd := range ok {
		if err := v.ValidateCommand(cmd); err != nil {
			t.Errorf("ValidateCommand(%q) = %v, want nil", cmd, err)
		}
	}

	bad := []string{
		"cat /etc/passwd",
		"rm -rf /",
		"echo hi > /etc/hosts",
		"cat " + inside + " > /tmp/leak.txt",
		"cp " + inside + " /etc/",
		"cat '/etc/pass",
	}
	for _, cmd := range bad {
		if err := v.ValidateCommand(cmd); !errors.Is(err, ErrPathOutsideAllowed) {
			t.Errorf("ValidateCommand(%q) = %v, want ErrPathOutsideAllowed", cmd, err)
		}
	}
}

func TestValidateCommandRedirectionInside(t *testing.T) {
	v, dir := newTestValidator(t)
	out := filepath.Join(dir, "out.txt")

	for _, cmd := range []string{
		"echo hi > " + out,
		"echo hi >" + out,
		"echo hi 2> " + out,
		"echo hi >> " + out,
	} {
		if err := v.ValidateCommand(cmd); err != nil {
			t.Errorf("ValidateCommand(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestValidateCommandPostPipePatternArgsSkipped(t *testing.T) {
	v, dir := newTestValidator(t)
	inside := filepath.Join(dir, "f.txt")

	// "/etc/" here is an awk pattern, not a path.
	if err := v.ValidateCommand("cat " + inside + " | awk /etc/"); err != nil {
		t.Errorf("post-pipe awk pattern validated as path: %v", err)
	}
	if err := v.ValidateCommand("cat " + inside + " | sed s,/etc/,X,"); err != nil {
		t.Errorf("post-pipe sed expression validated as path: %v", err)
	}
}
