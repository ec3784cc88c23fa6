// Package backoff provides exponential backoff utilities with jitter for
// retrying model requests and OAuth token refreshes.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random().
// Returns min(maxMs, base + jitter) as a time.Duration. Attempts start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns the policy used for model request retries.
// Initial: 1s, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// TokenRefreshPolicy returns the policy used for OAuth token refresh.
// Initial: 1s, Max: 8s, Factor: 2, no jitter; refresh is a single-flight
// operation so thundering herds are not a concern.
func TokenRefreshPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     8000,
		Factor:    2,
		Jitter:    0,
	}
}
