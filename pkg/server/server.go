package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hubkit/hubkit/pkg/config"
	"github.com/hubkit/hubkit/pkg/ratelimit"
	"github.com/hubkit/hubkit/pkg/store"
)

// Server is the quota exporter HTTP server.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	BroadcastSnapshot(snap ratelimit.Snapshot)
	SetRefresher(fn func(ctx context.Context) error)
}

// HTTPMetrics receives request counts and latencies for exporter endpoints.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path, status string, duration float64)
}

// server implements Server.
type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	coordinator *ratelimit.Coordinator
	store       store.Store
	metrics     HTTPMetrics
	hub         *Hub
	srv         *http.Server
	router      chi.Router

	rateLimiter *IPRateLimiter

	// refresh, if set, triggers an immediate quota poll.
	refresh func(ctx context.Context) error
}

// Ensure server implements Server.
var _ Server = (*server)(nil)

// NewServer creates a new exporter server. st and m may be nil when history
// or metrics are disabled.
func NewServer(log logrus.FieldLogger, cfg *config.Config, coordinator *ratelimit.Coordinator, st store.Store, m HTTPMetrics) Server {
	s := &server{
		log:         log.WithField("component", "server"),
		cfg:         cfg,
		coordinator: coordinator,
		store:       st,
		metrics:     m,
		hub:         NewHub(log),
	}

	if cfg.Server.RequestsPerMinute > 0 {
		s.rateLimiter = NewIPRateLimiter(cfg.Server.RequestsPerMinute)

		s.log.WithField("rpm", cfg.Server.RequestsPerMinute).Info("Rate limiting enabled")
	}

	s.setupRouter()

	return s
}

// Start starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.cfg.Server.Listen).Info("Starting exporter server")

	// Start WebSocket hub.
	go s.hub.Run(ctx)

	if s.rateLimiter != nil {
		go s.rateLimiter.run(ctx)
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.srv == nil {
		return nil
	}

	s.log.Info("Stopping exporter server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// BroadcastSnapshot pushes a snapshot to all connected WebSocket clients.
func (s *server) BroadcastSnapshot(snap ratelimit.Snapshot) {
	s.hub.BroadcastSnapshot(snap)
}

// SetRefresher registers the function invoked by the refresh endpoint. Set
// it before Start.
func (s *server) SetRefresher(fn func(ctx context.Context) error) {
	s.refresh = fn
}

// setupRouter configures all routes.
func (s *server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ratelimit", s.handleRateLimit)
		r.Get("/ratelimit/history", s.handleRateLimitHistory)
		r.Post("/ratelimit/refresh", s.handleRateLimitRefresh)
	})

	s.router = r
}

// corsMiddleware applies the configured CORS origins.
func (s *server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			for _, allowed := range s.cfg.Server.CORSOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

					break
				}
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRateLimit returns the coordinator's current snapshot.
func (s *server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.coordinator.Current()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no rate limit observed yet")

		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// handleRateLimitHistory returns recorded snapshot history.
func (s *server) handleRateLimitHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")

		return
	}

	opts := store.ListOpts{
		Resource: r.URL.Query().Get("resource"),
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")

			return
		}

		opts.Limit = limit
	}

	records, err := s.store.ListSnapshots(r.Context(), opts)
	if err != nil {
		s.log.WithError(err).Error("Failed to list snapshots")
		s.writeError(w, http.StatusInternalServerError, "failed to list snapshots")

		return
	}

	if records == nil {
		records = []*store.SnapshotRecord{}
	}

	s.writeJSON(w, http.StatusOK, records)
}

// handleRateLimitRefresh triggers an immediate quota poll and returns the
// refreshed snapshot.
func (s *server) handleRateLimitRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		s.writeError(w, http.StatusNotFound, "refresh is not available")

		return
	}

	if err := s.refresh(r.Context()); err != nil {
		s.log.WithError(err).Error("Failed to refresh rate limit")
		s.writeError(w, http.StatusBadGateway, "failed to refresh rate limit")

		return
	}

	snap, ok := s.coordinator.Current()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no rate limit observed yet")

		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// metricsMiddleware records request counts and latencies labeled by the
// matched route pattern.
func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
	})
}

// handleWebSocket upgrades the connection and registers it with the hub.
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, s.cfg.Server.CORSOrigins, w, r)
}

// writeJSON writes a JSON response.
func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

// writeError writes a JSON error response.
func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
