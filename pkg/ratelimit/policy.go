package ratelimit

import "time"

// Policy controls how the coordinator reacts to quota pressure and
// exhaustion. It is fixed at coordinator construction.
//
// FailFast and AutoRetry interact differently on the two decision paths:
// ShouldProceed gives FailFast precedence (a caller that asked to fail fast
// never sleeps out a tracked window), while HandleExhaustion gives AutoRetry
// precedence (an explicit server retry hint is an authoritative, bounded
// wait and is honored before any fail-fast signaling).
type Policy struct {
	// AutoRetry makes the coordinator sleep out the quota window (or the
	// server's retry hint) instead of failing the call.
	AutoRetry bool

	// MaxRetries bounds automatic retry attempts per request.
	MaxRetries int

	// FailFast makes tracked exhaustion fail immediately with
	// QuotaExceededError instead of waiting.
	FailFast bool

	// WarningThreshold is the usage fraction in (0, 1] at or above which
	// Update logs a warning. Zero disables the warning.
	WarningThreshold float64

	// RetryAfterFallback is the wait applied when an exhaustion signal
	// carries no usable retry hint.
	RetryAfterFallback time.Duration
}

// DefaultPolicy returns the policy used when none is configured: warn at 80%
// usage, fall back to a 60 second wait, no automatic retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         3,
		WarningThreshold:   0.8,
		RetryAfterFallback: 60 * time.Second,
	}
}
