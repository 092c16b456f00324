package ratelimit

import (
	"fmt"
	"time"
)

// QuotaExceededError is returned when the tracked quota is exhausted and
// policy requires signaling rather than waiting. It carries the exhausted
// snapshot so callers can report remaining/limit/reset to the user.
type QuotaExceededError struct {
	Snapshot Snapshot
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d requests remaining for %s, resets at %s",
		e.Snapshot.Remaining,
		e.Snapshot.Limit,
		e.Snapshot.Resource,
		e.Snapshot.ResetAt.UTC().Format(time.RFC3339),
	)
}

// RetryAfterError is returned when an out-of-band exhaustion signal occurred
// and policy requires the caller to wait before retrying, but the
// coordinator did not perform the wait itself.
type RetryAfterError struct {
	Delay time.Duration
}

// Error implements the error interface.
func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", int(e.Delay.Seconds()))
}
