package session

import "errors"

var (
	// ErrInvalidSessionID indicates a session id containing path separators
	// or traversal sequences.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotFound indicates the requested session file does not exist
	// for the current project.
	ErrSessionNotFound = errors.New("session not found")

	// ErrLockTimeout indicates the file lock could not be acquired within
	// the configured timeout.
	ErrLockTimeout = errors.New("session lock timeout")

	// ErrUnpairedToolCall indicates a replayed session contains a tool call
	// with no matching output. The session is not safe to continue.
	ErrUnpairedToolCall = errors.New("session contains a tool call without a matching output")
)
