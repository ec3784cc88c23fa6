package pathguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// pathCommands take filesystem paths as positional arguments.
var pathCommands = map[string]bool{
	"cat": true, "ls": true, "cp": true, "mv": true, "rm": true,
	"mkdir": true, "rmdir": true, "touch": true, "head": true, "tail": true,
	"cd": true, "less": true, "more": true, "stat": true, "file": true,
	"chmod": true, "chown": true, "ln": true, "readlink": true, "du": true,
	"diff": true, "tar": true, "unzip": true, "source": true, ".": true,
}

// patternCommands consume patterns or act as stream filters; after a pipe
// their arguments are not treated as paths.
var patternCommands = map[string]bool{
	"grep": true, "awk": true, "sed": true, "sort": true, "uniq": true, "wc": true,
}

var urlSchemes = []string{"http://", "https://", "ftp://", "ssh://"}

// scpTarget matches user@host:path remote targets.
var scpTarget = regexp.MustCompile(`^[A-Za-z0-9._%-]+@[A-Za-z0-9.-]+:`)

// separators that end a command segment.
var segmentSeparators = map[string]bool{
	"|": true, "||": true, "&&": true, ";": true, "&": true,
}

// ValidateCommand tokenizes a shell command and checks every path-taking
// position against the allowed directories: positional arguments of
// path-commands, redirection targets, and heredoc targets. Heredoc
// delimiters, URLs, remote scp-style targets, and post-pipe arguments of
// pattern commands are skipped. A command that cannot be tokenized is
// rejected outright.
func (v *Validator) ValidateCommand(command string) error {
	tokens, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("command could not be parsed: %w: %v", ErrPathOutsideAllowed, err)
	}

	currentCmd := ""
	afterPipe := false
	expectCmd := true
	skipNext := false // heredoc delimiter

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if skipNext {
			skipNext = false
			continue
		}

		if segmentSeparators[tok] {
			afterPipe = tok == "|"
			expectCmd = true
			currentCmd = ""
			continue
		}

		// Redirections. shlex keeps operators attached or separate
		// depending on quoting, so handle both forms.
		if op, target, ok := splitRedirection(tok); ok {
			if op == "<<<" {
				// Herestring: the operand is data, not a path.
				continue
			}
			if op == "<<" || op == "<<-" {
				// Heredoc: the delimiter word is not a path.
				if target == "" {
					skipNext = true
				}
				continue
			}
			if target == "" {
				if i+1 < len(tokens) {
					i++
					target = tokens[i]
				} else {
					continue
				}
			}
			if err := v.checkToken(target); err != nil {
				return err
			}
			continue
		}

		if expectCmd {
			currentCmd = baseCommand(tok)
			expectCmd = false
			continue
		}

		if strings.HasPrefix(tok, "-") {
			continue
		}
		if isRemote(tok) {
			continue
		}
		if afterPipe && patternCommands[currentCmd] {
			continue
		}
		if !pathCommands[currentCmd] && !looksLikePath(tok) {
			continue
		}
		if pathCommands[currentCmd] || looksLikePath(tok) {
			if err := v.checkToken(tok); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) checkToken(tok string) error {
	if tok == "" || isRemote(tok) {
		return nil
	}
	_, err := v.ValidatePath(tok)
	return err
}

// splitRedirection recognizes redirection operators, optionally fused with
// their target (">out.txt"). Returns the operator, the fused target if any,
// and whether tok was a redirection at all.
func splitRedirection(tok string) (op, target string, ok bool) {
	trimmed := strings.TrimLeft(tok, "0123456789")
	for _, candidate := range []string{"<<<", "<<-", "<<", ">>", "&>", ">", "<"} {
		if strings.HasPrefix(trimmed, candidate) {
			return candidate, strings.TrimPrefix(trimmed, candidate), true
		}
	}
	return "", "", false
}

func baseCommand(tok string) string {
	if i := strings.LastIndex(tok, "/"); i >= 0 {
		return tok[i+1:]
	}
	return tok
}

func isRemote(tok string) bool {
	for _, scheme := range urlSchemes {
		if strings.HasPrefix(tok, scheme) {
			return true
		}
	}
	return scpTarget.MatchString(tok)
}

func looksLikePath(tok string) bool {
	return strings.HasPrefix(tok, "/") ||
		strings.HasPrefix(tok, "./") ||
		strings.HasPrefix(tok, "../") ||
		strings.HasPrefix(tok, "~")
}
