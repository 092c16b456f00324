package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hubkit/hubkit/pkg/ratelimit"
)

const namespace = "hubkit"

// Metrics contains all Prometheus metrics for hubkit.
type Metrics struct {
	// GitHub API.
	APIRequestsTotal *prometheus.CounterVec
	APIErrorsTotal   *prometheus.CounterVec

	// Quota.
	RateLimitLimit     *prometheus.GaugeVec
	RateLimitRemaining *prometheus.GaugeVec
	RateLimitUsed      *prometheus.GaugeVec
	RateLimitUsage     *prometheus.GaugeVec
	RateLimitResetTime *prometheus.GaugeVec
	RateLimitWaits     prometheus.Counter

	// HTTP.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Build info.
	BuildInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		// GitHub API.
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "github_api_requests_total",
				Help:      "Total number of GitHub API requests",
			},
			[]string{"endpoint"},
		),
		APIErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "github_api_errors_total",
				Help:      "Total number of GitHub API errors",
			},
			[]string{"endpoint"},
		),

		// Quota.
		RateLimitLimit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_limit",
				Help:      "Requests allowed per window",
			},
			[]string{"resource"},
		),
		RateLimitRemaining: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_remaining",
				Help:      "Requests left in the current window",
			},
			[]string{"resource"},
		),
		RateLimitUsed: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_used",
				Help:      "Requests consumed in the current window",
			},
			[]string{"resource"},
		),
		RateLimitUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_usage_ratio",
				Help:      "Fraction of the window consumed",
			},
			[]string{"resource"},
		),
		RateLimitResetTime: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_reset_timestamp",
				Help:      "Unix timestamp of the next window reset",
			},
			[]string{"resource"},
		),
		RateLimitWaits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Total number of automatic rate-limit waits",
			},
		),

		// HTTP.
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Build info.
		BuildInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "commit", "date"},
		),
	}

	return m
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, commit, date string) {
	m.BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// RecordAPIRequest records a GitHub API request.
func (m *Metrics) RecordAPIRequest(endpoint string) {
	m.APIRequestsTotal.WithLabelValues(endpoint).Inc()
}

// RecordAPIError records a GitHub API error.
func (m *Metrics) RecordAPIError(endpoint string) {
	m.APIErrorsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveSnapshot exports a quota snapshot.
func (m *Metrics) ObserveSnapshot(snap ratelimit.Snapshot) {
	m.RateLimitLimit.WithLabelValues(snap.Resource).Set(float64(snap.Limit))
	m.RateLimitRemaining.WithLabelValues(snap.Resource).Set(float64(snap.Remaining))
	m.RateLimitUsed.WithLabelValues(snap.Resource).Set(float64(snap.Used))
	m.RateLimitUsage.WithLabelValues(snap.Resource).Set(snap.UsageFraction())
	m.RateLimitResetTime.WithLabelValues(snap.Resource).Set(float64(snap.ResetAt.Unix()))
}

// RecordRateLimitWait records an automatic wait.
func (m *Metrics) RecordRateLimitWait() {
	m.RateLimitWaits.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
