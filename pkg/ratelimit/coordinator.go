package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Coordinator tracks the remote quota state reported by response headers and
// arbitrates whether a caller may proceed, must wait, or must fail. A single
// instance is shared by all in-flight requests of a client; every method is
// safe for concurrent use. The snapshot lock is never held across a sleep,
// so one caller waiting out a window does not stall concurrent updates.
type Coordinator struct {
	log    logrus.FieldLogger
	policy Policy

	mu       sync.RWMutex
	snapshot *Snapshot

	// onSnapshot, if set, is invoked outside the lock for every stored
	// snapshot. Observers (metrics, history, broadcast) hang off this.
	onSnapshot func(Snapshot)

	// onWait, if set, is invoked before every automatic wait.
	onWait func(resource string, wait time.Duration)

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a coordinator with the given policy.
func NewCoordinator(log logrus.FieldLogger, policy Policy) *Coordinator {
	if policy.RetryAfterFallback <= 0 {
		policy.RetryAfterFallback = DefaultPolicy().RetryAfterFallback
	}

	return &Coordinator{
		log:    log.WithField("component", "ratelimit"),
		policy: policy,
		sleep:  sleepCtx,
	}
}

// Policy returns the coordinator's policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// SetSnapshotCallback registers a callback invoked for every snapshot stored
// by Update. Set it before the coordinator is shared between goroutines.
func (c *Coordinator) SetSnapshotCallback(fn func(Snapshot)) {
	c.onSnapshot = fn
}

// SetWaitCallback registers a callback invoked whenever the coordinator is
// about to sleep out a quota window or retry hint. Set it before the
// coordinator is shared between goroutines.
func (c *Coordinator) SetWaitCallback(fn func(resource string, wait time.Duration)) {
	c.onWait = fn
}

// Update parses quota headers and, on success, atomically replaces the
// current snapshot. A usage fraction at or above the warning threshold logs
// an advisory warning. Malformed or missing headers leave existing state
// untouched. Update never fails.
func (c *Coordinator) Update(headers map[string]string) {
	snap, ok := ParseSnapshot(headers, DefaultResource)
	if !ok {
		return
	}

	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()

	usage := snap.UsageFraction()
	if c.policy.WarningThreshold > 0 && usage >= c.policy.WarningThreshold {
		c.log.WithFields(logrus.Fields{
			"resource":  snap.Resource,
			"remaining": snap.Remaining,
			"limit":     snap.Limit,
			"usage":     strconv.FormatFloat(usage*100, 'f', 1, 64) + "%",
		}).Warn("API rate limit usage above threshold")
	}

	if c.onSnapshot != nil {
		c.onSnapshot(snap)
	}
}

// UpdateFromResponse feeds a response's headers to Update. Nil responses are
// ignored.
func (c *Coordinator) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	c.Update(HeaderMap(resp.Header))
}

// Current returns the latest stored snapshot, or false if no response has
// been observed yet.
func (c *Coordinator) Current() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snapshot == nil {
		return Snapshot{}, false
	}

	return *c.snapshot, true
}

// ShouldProceed decides whether a new request may be issued. It succeeds
// immediately when no snapshot is tracked or quota remains. On exhaustion,
// FailFast returns a QuotaExceededError; otherwise AutoRetry sleeps until
// the window resets and then succeeds without re-checking, leaving the next
// response's Update to refresh state. With neither flag set the call fails.
func (c *Coordinator) ShouldProceed(ctx context.Context) error {
	snap, ok := c.Current()
	if !ok || !snap.IsExhausted() {
		return nil
	}

	if c.policy.FailFast {
		return &QuotaExceededError{Snapshot: snap}
	}

	if c.policy.AutoRetry {
		wait := snap.TimeUntilReset()
		if wait <= 0 {
			return nil
		}

		c.logWait(snap.Resource, wait)

		return c.sleep(ctx, wait)
	}

	return &QuotaExceededError{Snapshot: snap}
}

// HandleExhaustion reacts to an out-of-band exhaustion signal from the
// transport (a too-many-requests style response observed independently of
// the tracked snapshot). retryAfter is the server's suggested wait in
// seconds, possibly empty. A nil return means the caller should retry the
// original request once.
func (c *Coordinator) HandleExhaustion(ctx context.Context, retryAfter string) error {
	wait, hinted := parseRetryAfter(retryAfter)

	if c.policy.AutoRetry {
		if !hinted {
			wait = c.policy.RetryAfterFallback
		}

		c.logWait(DefaultResource, wait)

		return c.sleep(ctx, wait)
	}

	if c.policy.FailFast {
		if !hinted {
			wait = c.policy.RetryAfterFallback
		}

		return &RetryAfterError{Delay: wait}
	}

	// Neither waiting nor signaling is configured: the caller proceeds at
	// its own risk.
	c.log.Debug("Exhaustion signal ignored by policy")

	return nil
}

// logWait emits the notice preceding an automatic wait and notifies the
// wait observer.
func (c *Coordinator) logWait(resource string, wait time.Duration) {
	c.log.WithFields(logrus.Fields{
		"resource":     resource,
		"wait_seconds": int(wait.Seconds()),
	}).Info("Rate limited, waiting before retry")

	if c.onWait != nil {
		c.onWait(resource, wait)
	}
}

// parseRetryAfter parses a retry-after hint as base-10 seconds.
func parseRetryAfter(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}

	return time.Duration(secs) * time.Second, true
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
