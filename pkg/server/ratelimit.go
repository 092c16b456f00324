package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketTTL is how long an idle client keeps its limiter before the sweep
// drops it.
const bucketTTL = 10 * time.Minute

// IPRateLimiter enforces a per-client request budget on the exporter
// endpoints. Each remote address gets its own token bucket sized to the
// configured per-minute budget.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
}

// bucket tracks one client's limiter and when it was last used.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing requestsPerMinute per client.
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		buckets: make(map[string]*bucket, 64),
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   requestsPerMinute,
	}
}

// run sweeps idle buckets until the context is cancelled.
func (l *IPRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(bucketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(time.Now().Add(-bucketTTL))
		}
	}
}

// sweep drops buckets not used since the cutoff.
func (l *IPRateLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, addr)
		}
	}
}

// allow reports whether the client may make another request now.
func (l *IPRateLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[addr] = b
	}

	b.lastSeen = time.Now()

	return b.limiter.Allow()
}

// Middleware rejects clients over budget with a 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RealIP has already rewritten RemoteAddr to the client address.
		if !l.allow(r.RemoteAddr) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			//nolint:errcheck // Response writing errors are not recoverable.
			w.Write([]byte(`{"error":"rate limit exceeded"}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}
