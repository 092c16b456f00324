package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hubkit/hubkit/pkg/config"
	"github.com/hubkit/hubkit/pkg/ratelimit"
	"github.com/hubkit/hubkit/pkg/store"
)

// fakeStore returns canned history.
type fakeStore struct {
	records []*store.SnapshotRecord
	lastOpt store.ListOpts
}

func (f *fakeStore) Start(ctx context.Context) error { return nil }
func (f *fakeStore) Stop() error                     { return nil }
func (f *fakeStore) Migrate(ctx context.Context) error {
	return nil
}

func (f *fakeStore) RecordSnapshot(ctx context.Context, record *store.SnapshotRecord) error {
	f.records = append(f.records, record)

	return nil
}

func (f *fakeStore) LatestSnapshot(ctx context.Context, resource string) (*store.SnapshotRecord, error) {
	if len(f.records) == 0 {
		return nil, nil
	}

	return f.records[len(f.records)-1], nil
}

func (f *fakeStore) ListSnapshots(ctx context.Context, opts store.ListOpts) ([]*store.SnapshotRecord, error) {
	f.lastOpt = opts

	return f.records, nil
}

func (f *fakeStore) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakeHTTPMetrics records middleware observations.
type fakeHTTPMetrics struct {
	methods []string
	paths   []string
	statses []string
}

func (f *fakeHTTPMetrics) RecordHTTPRequest(method, path, status string, _ float64) {
	f.methods = append(f.methods, method)
	f.paths = append(f.paths, path)
	f.statses = append(f.statses, status)
}

func newTestServer(t *testing.T, st store.Store) (*server, *ratelimit.Coordinator) {
	t.Helper()

	log, _ := logrustest.NewNullLogger()

	coordinator := ratelimit.NewCoordinator(log, ratelimit.DefaultPolicy())

	cfg := &config.Config{}
	cfg.Server.Listen = ":0"

	srv := NewServer(log, cfg, coordinator, st, nil).(*server)

	return srv, coordinator
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRateLimitEndpointWithoutSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitEndpointReturnsCurrentSnapshot(t *testing.T) {
	srv, coordinator := newTestServer(t, nil)

	reset := time.Now().Add(time.Hour)
	coordinator.Update(map[string]string{
		"x-ratelimit-limit":     "5000",
		"x-ratelimit-remaining": "4200",
		"x-ratelimit-used":      "800",
		"x-ratelimit-reset":     fmt.Sprintf("%d", reset.Unix()),
	})

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap ratelimit.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 5000, snap.Limit)
	require.Equal(t, 4200, snap.Remaining)
	require.Equal(t, "core", snap.Resource)
}

func TestHistoryEndpointDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/history", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	st := &fakeStore{records: []*store.SnapshotRecord{
		{ID: "a", Resource: "core", Limit: 5000, Remaining: 4999, Used: 1},
	}}

	srv, _ := newTestServer(t, st)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/history?resource=core&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "core", st.lastOpt.Resource)
	require.Equal(t, 5, st.lastOpt.Limit)

	var records []*store.SnapshotRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "a", records[0].ID)
}

func TestHistoryEndpointRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/history?limit=zero", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshEndpointWithoutRefresher(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ratelimit/refresh", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshEndpointTriggersPoll(t *testing.T) {
	srv, coordinator := newTestServer(t, nil)

	var polls int

	srv.SetRefresher(func(ctx context.Context) error {
		polls++

		// A poll feeds fresh headers through the coordinator.
		coordinator.Update(map[string]string{
			"x-ratelimit-limit":     "5000",
			"x-ratelimit-remaining": "4000",
			"x-ratelimit-used":      "1000",
			"x-ratelimit-reset":     fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()),
		})

		return nil
	})

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ratelimit/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, polls)

	var snap ratelimit.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 4000, snap.Remaining)
}

func TestRefreshEndpointReportsPollFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	srv.SetRefresher(func(ctx context.Context) error {
		return fmt.Errorf("upstream unavailable")
	})

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ratelimit/refresh", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetricsMiddlewareRecordsRoutePattern(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	coordinator := ratelimit.NewCoordinator(log, ratelimit.DefaultPolicy())

	cfg := &config.Config{}
	cfg.Server.Listen = ":0"

	m := &fakeHTTPMetrics{}
	srv := NewServer(log, cfg, coordinator, nil, m).(*server)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, []string{http.MethodGet}, m.methods)
	require.Equal(t, []string{"/healthz"}, m.paths)
	require.Equal(t, []string{"200"}, m.statses)
}

func TestIPRateLimiterEnforcesBudget(t *testing.T) {
	l := NewIPRateLimiter(2)

	require.True(t, l.allow("10.0.0.1"))
	require.True(t, l.allow("10.0.0.1"))
	require.False(t, l.allow("10.0.0.1"), "budget exhausted")
	require.True(t, l.allow("10.0.0.2"), "other clients keep their own budget")

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestIPRateLimiterSweepDropsIdleBuckets(t *testing.T) {
	l := NewIPRateLimiter(2)

	require.True(t, l.allow("10.0.0.1"))
	require.True(t, l.allow("10.0.0.2"))

	l.buckets["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)

	l.sweep(time.Now().Add(-30 * time.Minute))

	require.NotContains(t, l.buckets, "10.0.0.1")
	require.Contains(t, l.buckets, "10.0.0.2")
}
