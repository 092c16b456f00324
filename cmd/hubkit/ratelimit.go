package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hubkit/hubkit/pkg/actions"
	"github.com/hubkit/hubkit/pkg/config"
	"github.com/hubkit/hubkit/pkg/github"
)

func newRateLimitCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rate-limit",
		Short: "Show current API quota state",
		Long:  `Query the rate limit endpoint and print per-resource quota state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRateLimit(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runRateLimit(ctx context.Context, log *logrus.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client := github.NewClient(log, github.Options{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		UserAgent:         cfg.GitHub.UserAgent,
		Policy:            cfg.Policy(),
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	})

	if err := client.Start(ctx); err != nil {
		return err
	}

	defer client.Stop()

	limits, err := client.GetRateLimit(ctx)
	if err != nil {
		return err
	}

	resources := map[string]github.Rate{
		"core":    limits.Resources.Core,
		"search":  limits.Resources.Search,
		"graphql": limits.Resources.GraphQL,
	}

	for name, r := range resources {
		log.WithFields(logrus.Fields{
			"resource":  name,
			"limit":     r.Limit,
			"remaining": r.Remaining,
			"used":      r.Used,
			"reset":     r.ResetTime(),
		}).Info("Quota state")
	}

	// Inside a workflow, also publish outputs and a summary table.
	if actions.IsRunning() {
		if err := actions.SetOutput("remaining", fmt.Sprintf("%d", limits.Resources.Core.Remaining)); err != nil {
			log.WithError(err).Warn("Failed to set step output")
		}

		summary := actions.NewSummary().
			AddHeading("API quota", 2).
			AddTable(quotaTable(resources))

		if err := summary.Write(); err != nil {
			log.WithError(err).Warn("Failed to write step summary")
		}
	}

	return nil
}

// quotaTable renders per-resource quota rows for the step summary.
func quotaTable(resources map[string]github.Rate) [][]string {
	rows := [][]string{{"Resource", "Remaining", "Limit", "Resets"}}

	for _, name := range []string{"core", "search", "graphql"} {
		r := resources[name]
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", r.Remaining),
			fmt.Sprintf("%d", r.Limit),
			r.ResetTime().UTC().Format("15:04:05"),
		})
	}

	return rows
}
