package github

import (
	"context"
	"fmt"
	"net/http"
)

// GetRateLimit fetches the current quota state for all resources. Calls to
// this endpoint do not count against the quota; the response headers seed
// the coordinator like any other response.
func (c *client) GetRateLimit(ctx context.Context) (*RateLimits, error) {
	c.log.Debug("Getting rate limit")

	var limits RateLimits
	if err := c.do(ctx, "rate_limit", http.MethodGet, "/rate_limit", nil, nil, &limits); err != nil {
		return nil, fmt.Errorf("getting rate limit: %w", err)
	}

	return &limits, nil
}
