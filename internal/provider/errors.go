package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/vibecore-ai/vibecore/internal/auth"
)

var (
	// ErrModelTransient covers 5xx responses, rate limits, and network
	// failures. These are retried before surfacing.
	ErrModelTransient = errors.New("transient model error")

	// ErrModelFatal covers non-auth 4xx responses. Retrying the same
	// request will not help.
	ErrModelFatal = errors.New("model request rejected")

	// ErrModelAuth covers 401/403 responses from the provider.
	ErrModelAuth = errors.New("model authentication rejected")
)

// ClassifyError maps an SDK or transport error onto the engine's taxonomy.
// Context cancellation passes through untouched.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Credential failures from the request interceptor keep their own
	// taxonomy; retrying the model request cannot fix them.
	if errors.Is(err, auth.ErrNotAuthenticated) || errors.Is(err, auth.ErrAuthExpired) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrModelAuth, err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrModelTransient, err)
		case apiErr.StatusCode >= 400:
			return fmt.Errorf("%w: %v", ErrModelFatal, err)
		}
	}

	// Anything without an HTTP status is a transport-level failure.
	return fmt.Errorf("%w: %v", ErrModelTransient, err)
}

// IsRetryable reports whether a classified error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelTransient)
}
