package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names carrying quota state, normalized to lowercase.
const (
	headerLimit     = "x-ratelimit-limit"
	headerRemaining = "x-ratelimit-remaining"
	headerUsed      = "x-ratelimit-used"
	headerReset     = "x-ratelimit-reset"
	headerResource  = "x-ratelimit-resource"
)

// DefaultResource is the quota bucket used when a response does not name one.
const DefaultResource = "core"

// Snapshot is a point-in-time record of quota state parsed from response
// headers. It is immutable; a new Snapshot is produced for every response
// that carries a complete header set.
type Snapshot struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
	Resource  string    `json:"resource"`
}

// IsExhausted reports whether no quota remains in the current window.
func (s Snapshot) IsExhausted() bool {
	return s.Remaining == 0
}

// TimeUntilReset returns the duration until the window resets. The result is
// negative once the reset time has passed; callers clamp as needed.
func (s Snapshot) TimeUntilReset() time.Duration {
	return time.Until(s.ResetAt)
}

// UsageFraction returns used/limit, or 0 when the limit is unknown.
func (s Snapshot) UsageFraction() float64 {
	if s.Limit <= 0 {
		return 0
	}

	return float64(s.Used) / float64(s.Limit)
}

// ParseSnapshot builds a Snapshot from a header map. All four numeric fields
// (limit, remaining, used, reset) must be present and parse as integers,
// otherwise no snapshot is produced; responses without quota headers are
// common and not an error. Header names are matched case-insensitively. The
// resource label falls back to defaultResource when absent.
func ParseSnapshot(headers map[string]string, defaultResource string) (Snapshot, bool) {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToLower(k)] = v
	}

	limit, ok := intHeader(normalized, headerLimit)
	if !ok {
		return Snapshot{}, false
	}

	remaining, ok := intHeader(normalized, headerRemaining)
	if !ok {
		return Snapshot{}, false
	}

	used, ok := intHeader(normalized, headerUsed)
	if !ok {
		return Snapshot{}, false
	}

	reset, ok := intHeader(normalized, headerReset)
	if !ok {
		return Snapshot{}, false
	}

	if limit < 0 || remaining < 0 {
		return Snapshot{}, false
	}

	resource := normalized[headerResource]
	if resource == "" {
		resource = defaultResource
	}

	return Snapshot{
		Limit:     limit,
		Remaining: remaining,
		Used:      used,
		ResetAt:   time.Unix(int64(reset), 0),
		Resource:  resource,
	}, true
}

// HeaderMap flattens an http.Header into the map form ParseSnapshot expects,
// keeping the first value of each field.
func HeaderMap(h http.Header) map[string]string {
	m := make(map[string]string, len(h))

	for k, vs := range h {
		if len(vs) > 0 {
			m[strings.ToLower(k)] = vs[0]
		}
	}

	return m
}

// intHeader reads a base-10 integer header value.
func intHeader(headers map[string]string, name string) (int, bool) {
	raw, ok := headers[name]
	if !ok {
		return 0, false
	}

	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}

	return v, true
}
