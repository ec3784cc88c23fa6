package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been used.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Retry executes fn with exponential backoff, up to maxAttempts times.
// fn receives the current attempt number (1-indexed). A nil error stops the
// loop and returns the value. A non-nil permanent(err) result stops the loop
// immediately without further attempts.
//
// Context cancellation is checked between attempts.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	permanent func(error) bool,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if permanent != nil && permanent(err) {
			return zero, err
		}

		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return zero, err
			}
		}
	}

	return zero, errors.Join(ErrMaxAttemptsExhausted, lastErr)
}
