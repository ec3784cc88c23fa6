// Package auth manages stored credentials and the OAuth token lifecycle
// for the model provider.
package auth

import "errors"

var (
	// ErrNotAuthenticated indicates no credentials are stored. The user
	// must run login or supply an API key.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthExpired indicates the refresh token was rejected. The user
	// must re-authenticate; retrying will not help.
	ErrAuthExpired = errors.New("authentication expired, please log in again")

	// ErrAuthTransient indicates a refresh failed for a retryable reason
	// and all retries were exhausted.
	ErrAuthTransient = errors.New("temporary authentication failure")
)
