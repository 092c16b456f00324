package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hubkit/hubkit/pkg/ratelimit"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "hubkit"

	acceptHeader = "application/vnd.github+json"
	apiVersion   = "2022-11-28"
)

// Client defines the interface for GitHub API operations.
type Client interface {
	Start(ctx context.Context) error
	Stop() error

	// Rate limiting.
	RateLimit() *ratelimit.Coordinator
	GetRateLimit(ctx context.Context) (*RateLimits, error)

	// Repositories.
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)

	// Issues.
	ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOpts) ([]*Issue, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*IssueComment, error)

	// Workflows.
	GetWorkflowRun(ctx context.Context, owner, repo string, runID int64) (*WorkflowRun, error)
	ListWorkflowRuns(ctx context.Context, owner, repo, workflowID string, opts ListWorkflowRunsOpts) ([]*WorkflowRun, error)
}

// MetricsRecorder receives per-endpoint API request and error counts.
type MetricsRecorder interface {
	RecordAPIRequest(endpoint string)
	RecordAPIError(endpoint string)
}

// Options configures a Client.
type Options struct {
	// Token is the bearer token used for authentication.
	Token string

	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// Policy controls rate-limit coordination.
	Policy ratelimit.Policy

	// RequestsPerSecond enables a client-side proactive limiter when > 0.
	RequestsPerSecond float64

	// Metrics, when set, counts requests and errors per endpoint.
	Metrics MetricsRecorder
}

// client implements Client.
type client struct {
	log         logrus.FieldLogger
	opts        Options
	baseURL     *url.URL
	httpClient  *http.Client
	coordinator *ratelimit.Coordinator
	limiter     *rate.Limiter
}

// Ensure client implements Client.
var _ Client = (*client)(nil)

// NewClient creates a new GitHub client.
func NewClient(log logrus.FieldLogger, opts Options) Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	c := &client{
		log:         log.WithField("component", "github"),
		opts:        opts,
		coordinator: ratelimit.NewCoordinator(log, opts.Policy),
	}

	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return c
}

// Start initializes the HTTP transport and verifies authentication by
// probing the rate limit endpoint, which also seeds the coordinator.
func (c *client) Start(ctx context.Context) error {
	c.log.Info("Initializing GitHub client")

	base, err := url.Parse(strings.TrimSuffix(c.opts.BaseURL, "/"))
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}

	c.baseURL = base

	if c.opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.opts.Token})
		c.httpClient = oauth2.NewClient(ctx, ts)
	} else {
		c.httpClient = &http.Client{}
	}

	limits, err := c.GetRateLimit(ctx)
	if err != nil {
		return fmt.Errorf("testing GitHub authentication: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"rate_remaining": limits.Resources.Core.Remaining,
		"rate_limit":     limits.Resources.Core.Limit,
		"rate_reset":     limits.Resources.Core.ResetTime(),
	}).Info("GitHub client initialized")

	return nil
}

// Stop shuts down the GitHub client.
func (c *client) Stop() error {
	c.log.Info("Stopping GitHub client")

	return nil
}

// RateLimit returns the client's rate-limit coordinator.
func (c *client) RateLimit() *ratelimit.Coordinator {
	return c.coordinator
}

// do executes one API call, counting it (and any failure) against the
// named endpoint.
func (c *client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordAPIRequest(endpoint)
	}

	err := c.roundTrip(ctx, method, path, query, body, out)
	if err != nil && c.opts.Metrics != nil {
		c.opts.Metrics.RecordAPIError(endpoint)
	}

	return err
}

// roundTrip gates on the coordinator, issues the request, feeds response
// headers back to the coordinator, and decodes the JSON body into out (when
// non-nil). A rate-limited response is handed to the coordinator's
// exhaustion handler; if that returns nil the request is re-issued exactly
// once.
func (c *client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.coordinator.ShouldProceed(ctx); err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if isRateLimited(resp) {
		retryAfter := resp.Header.Get("Retry-After")
		drain(resp)

		c.log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug("Rate limited response received")

		if err := c.coordinator.HandleExhaustion(ctx, retryAfter); err != nil {
			return err
		}

		resp, err = c.send(ctx, method, path, query, body)
		if err != nil {
			return err
		}
	}

	defer drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// send builds and executes a single HTTP request, reporting the response's
// headers to the coordinator regardless of status code.
func (c *client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.coordinator.UpdateFromResponse(resp)

	return resp, nil
}

// isRateLimited reports whether a response is an out-of-band exhaustion
// signal: an explicit 429, or a 403 that carries exhausted quota headers or
// a Retry-After hint (secondary limits).
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}

	if resp.StatusCode != http.StatusForbidden {
		return false
	}

	if resp.Header.Get("Retry-After") != "" {
		return true
	}

	return resp.Header.Get("X-Ratelimit-Remaining") == "0"
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	//nolint:errcheck // Best effort drain before close.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
