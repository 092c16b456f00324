package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hubkit/hubkit/pkg/config"
	"github.com/hubkit/hubkit/pkg/github"
	"github.com/hubkit/hubkit/pkg/metrics"
	"github.com/hubkit/hubkit/pkg/ratelimit"
	"github.com/hubkit/hubkit/pkg/server"
	"github.com/hubkit/hubkit/pkg/store"
)

func newServeCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the quota exporter server",
		Long: `Run the quota exporter: polls the rate limit endpoint, records
snapshot history, exports Prometheus metrics, and pushes live updates
over WebSocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runServe(ctx context.Context, log *logrus.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"version": Version,
		"commit":  GitCommit,
	}).Info("Starting hubkit")
	log.Debugf("Configuration:\n%s", cfg.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()
	m.SetBuildInfo(Version, GitCommit, BuildDate)

	// History store (optional).
	var st store.Store

	if cfg.History.Enabled {
		st = store.NewSQLiteStore(log, cfg.History.SQLitePath)

		if err := st.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := st.Stop(); err != nil {
				log.WithError(err).Error("Failed to stop store")
			}
		}()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}

	client := github.NewClient(log, github.Options{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		UserAgent:         cfg.GitHub.UserAgent,
		Policy:            cfg.Policy(),
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Metrics:           m,
	})

	srv := server.NewServer(log, cfg, client.RateLimit(), st, m)

	// Fan out every snapshot to metrics, history, and WebSocket clients.
	// Wired before Start so the seeding probe is observed too.
	client.RateLimit().SetSnapshotCallback(func(snap ratelimit.Snapshot) {
		m.ObserveSnapshot(snap)
		srv.BroadcastSnapshot(snap)

		if st != nil {
			if err := st.RecordSnapshot(ctx, store.FromSnapshot(snap, time.Now())); err != nil {
				log.WithError(err).Error("Failed to record snapshot")
			}
		}
	})

	client.RateLimit().SetWaitCallback(func(_ string, _ time.Duration) {
		m.RecordRateLimitWait()
	})

	if err := client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := client.Stop(); err != nil {
			log.WithError(err).Error("Failed to stop client")
		}
	}()

	poller := github.NewPoller(log, client, cfg.GitHub.PollInterval)
	if err := poller.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := poller.Stop(); err != nil {
			log.WithError(err).Error("Failed to stop poller")
		}
	}()

	srv.SetRefresher(poller.ForceRefresh)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := srv.Stop(); err != nil {
			log.WithError(err).Error("Failed to stop server")
		}
	}()

	if st != nil && cfg.History.RetentionDays > 0 {
		go retentionLoop(ctx, log, st, cfg.History.RetentionDays, cfg.History.CleanupInterval)
	}

	log.Info("hubkit is running")

	// Wait for shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.WithField("signal", s.String()).Info("Shutting down")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	return nil
}

// retentionLoop prunes snapshot history older than the retention window.
func retentionLoop(ctx context.Context, log logrus.FieldLogger, st store.Store, retentionDays int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)

			deleted, err := st.DeleteSnapshotsBefore(ctx, cutoff)
			if err != nil {
				log.WithError(err).Error("Failed to prune snapshot history")

				continue
			}

			if deleted > 0 {
				log.WithField("deleted", deleted).Info("Pruned snapshot history")
			}
		}
	}
}
