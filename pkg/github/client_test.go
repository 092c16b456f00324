package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hubkit/hubkit/pkg/ratelimit"
)

// quotaHeaders stamps rate-limit headers on a response.
func quotaHeaders(w http.ResponseWriter, limit, remaining, used int, reset time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	h.Set("X-RateLimit-Used", fmt.Sprintf("%d", used))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
}

func serveRateLimit(mux *http.ServeMux) {
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		quotaHeaders(w, 5000, 4999, 1, time.Now().Add(time.Hour))
		//nolint:errcheck
		json.NewEncoder(w).Encode(RateLimits{
			Resources: RateLimitResources{
				Core: Rate{Limit: 5000, Remaining: 4999, Used: 1, Reset: time.Now().Add(time.Hour).Unix()},
			},
		})
	})
}

func startClient(t *testing.T, mux *http.ServeMux, policy ratelimit.Policy) Client {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log, _ := logrustest.NewNullLogger()

	c := NewClient(log, Options{
		Token:   "test-token",
		BaseURL: srv.URL,
		Policy:  policy,
	})

	require.NoError(t, c.Start(context.Background()))

	return c
}

func TestStartSeedsCoordinatorFromRateLimitProbe(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	snap, ok := c.RateLimit().Current()
	require.True(t, ok)
	require.Equal(t, 5000, snap.Limit)
	require.Equal(t, 4999, snap.Remaining)
}

func TestRequestCarriesAuthAndStandardHeaders(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	var got http.Header

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		quotaHeaders(w, 5000, 4998, 2, time.Now().Add(time.Hour))
		//nolint:errcheck
		json.NewEncoder(w).Encode(Repository{ID: 1, FullName: "octo/demo"})
	})

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	repo, err := c.GetRepository(context.Background(), "octo", "demo")
	require.NoError(t, err)
	require.Equal(t, "octo/demo", repo.FullName)

	require.Equal(t, "Bearer test-token", got.Get("Authorization"))
	require.Equal(t, "application/vnd.github+json", got.Get("Accept"))
	require.Equal(t, "hubkit", got.Get("User-Agent"))
	require.NotEmpty(t, got.Get("X-Request-ID"))
}

func TestEveryResponseUpdatesCoordinator(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		quotaHeaders(w, 5000, 100, 4900, reset)
		//nolint:errcheck
		json.NewEncoder(w).Encode(Repository{ID: 1})
	})

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	_, err := c.GetRepository(context.Background(), "octo", "demo")
	require.NoError(t, err)

	snap, ok := c.RateLimit().Current()
	require.True(t, ok)
	require.Equal(t, 100, snap.Remaining)
	require.Equal(t, 4900, snap.Used)
	require.True(t, snap.ResetAt.Equal(reset))
}

func TestRateLimitedResponseRetriesOnceWithAutoRetry(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	var hits atomic.Int32

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		quotaHeaders(w, 5000, 4997, 3, time.Now().Add(time.Hour))
		//nolint:errcheck
		json.NewEncoder(w).Encode(Repository{ID: 7, FullName: "octo/demo"})
	})

	c := startClient(t, mux, ratelimit.Policy{AutoRetry: true})

	repo, err := c.GetRepository(context.Background(), "octo", "demo")
	require.NoError(t, err)
	require.Equal(t, int64(7), repo.ID)
	require.Equal(t, int32(2), hits.Load())
}

func TestRateLimitedResponseFailsWithRetryAfterError(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	var hits atomic.Int32

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := startClient(t, mux, ratelimit.Policy{FailFast: true})

	_, err := c.GetRepository(context.Background(), "octo", "demo")

	var retryErr *ratelimit.RetryAfterError
	require.ErrorAs(t, err, &retryErr)
	require.Equal(t, 120*time.Second, retryErr.Delay)
	require.Equal(t, int32(1), hits.Load(), "policy that signals must not retry")
}

func TestSecondaryLimit403IsTreatedAsExhaustion(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusForbidden)
	})

	c := startClient(t, mux, ratelimit.Policy{FailFast: true})

	_, err := c.GetRepository(context.Background(), "octo", "demo")

	var retryErr *ratelimit.RetryAfterError
	require.ErrorAs(t, err, &retryErr)
	require.Equal(t, 60*time.Second, retryErr.Delay)
}

func TestFailFastGatesBeforeIssuingRequest(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	var hits atomic.Int32

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	c := startClient(t, mux, ratelimit.Policy{FailFast: true})

	// Track an exhausted window.
	c.RateLimit().Update(map[string]string{
		"x-ratelimit-limit":     "60",
		"x-ratelimit-remaining": "0",
		"x-ratelimit-used":      "60",
		"x-ratelimit-reset":     fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()),
	})

	_, err := c.GetRepository(context.Background(), "octo", "demo")

	var quotaErr *ratelimit.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	require.Equal(t, 60, quotaErr.Snapshot.Limit)
	require.Equal(t, int32(0), hits.Load(), "exhausted quota must gate before the request is sent")
}

func TestAPIErrorDecoding(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	mux.HandleFunc("/repos/octo/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GitHub-Request-Id", "ABCD:1234")
		w.WriteHeader(http.StatusNotFound)
		//nolint:errcheck
		w.Write([]byte(`{"message":"Not Found","documentation_url":"https://docs.github.com"}`))
	})

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	_, err := c.GetRepository(context.Background(), "octo", "missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "Not Found", apiErr.Message)
	require.Equal(t, "ABCD:1234", apiErr.RequestID)
	require.Contains(t, apiErr.Error(), "404")
}

func TestCreateIssueCommentPostsBody(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	mux.HandleFunc("/repos/octo/demo/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "quota looks fine", payload["body"])

		w.WriteHeader(http.StatusCreated)
		//nolint:errcheck
		json.NewEncoder(w).Encode(IssueComment{ID: 9, Body: payload["body"]})
	})

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	comment, err := c.CreateIssueComment(context.Background(), "octo", "demo", 42, "quota looks fine")
	require.NoError(t, err)
	require.Equal(t, int64(9), comment.ID)
}

func TestListWorkflowRunsQuery(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	mux.HandleFunc("/repos/octo/demo/actions/workflows/ci.yaml/runs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "main", r.URL.Query().Get("branch"))
		require.Equal(t, "completed", r.URL.Query().Get("status"))

		//nolint:errcheck
		json.NewEncoder(w).Encode(map[string]any{
			"workflow_runs": []WorkflowRun{{ID: 1, Status: "completed", Conclusion: "success"}},
		})
	})

	c := startClient(t, mux, ratelimit.DefaultPolicy())

	runs, err := c.ListWorkflowRuns(context.Background(), "octo", "demo", "ci.yaml", ListWorkflowRunsOpts{
		Branch: "main",
		Status: "completed",
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "success", runs[0].Conclusion)
}

// fakeRecorder counts per-endpoint requests and errors.
type fakeRecorder struct {
	requests map[string]int
	errors   map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		requests: make(map[string]int),
		errors:   make(map[string]int),
	}
}

func (f *fakeRecorder) RecordAPIRequest(endpoint string) { f.requests[endpoint]++ }
func (f *fakeRecorder) RecordAPIError(endpoint string)   { f.errors[endpoint]++ }

func TestRequestsAndErrorsAreCountedPerEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	serveRateLimit(mux)

	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		quotaHeaders(w, 5000, 4998, 2, time.Now().Add(time.Hour))
		//nolint:errcheck
		json.NewEncoder(w).Encode(Repository{ID: 1})
	})
	mux.HandleFunc("/repos/octo/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log, _ := logrustest.NewNullLogger()
	recorder := newFakeRecorder()

	c := NewClient(log, Options{
		Token:   "test-token",
		BaseURL: srv.URL,
		Policy:  ratelimit.DefaultPolicy(),
		Metrics: recorder,
	})

	require.NoError(t, c.Start(context.Background()))

	_, err := c.GetRepository(context.Background(), "octo", "demo")
	require.NoError(t, err)

	_, err = c.GetRepository(context.Background(), "octo", "missing")
	require.Error(t, err)

	require.Equal(t, 1, recorder.requests["rate_limit"], "Start's probe is counted")
	require.Equal(t, 2, recorder.requests["get_repository"])
	require.Equal(t, 1, recorder.errors["get_repository"])
	require.Zero(t, recorder.errors["rate_limit"])
}

func TestStartFailsOnBadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		//nolint:errcheck
		w.Write([]byte(`{"message":"Bad credentials"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log, _ := logrustest.NewNullLogger()

	c := NewClient(log, Options{Token: "bad", BaseURL: srv.URL, Policy: ratelimit.DefaultPolicy()})

	err := c.Start(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "Bad credentials") || strings.Contains(err.Error(), "401"))
}
