// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"contribtrack/internal/cache"
	"contribtrack/internal/config"
	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
	"contribtrack/internal/gateway/github"
	"contribtrack/internal/gateway/gitlab"
	"contribtrack/internal/usecase"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregates base-branch activity and outputs it as JSON",
	Long: `Fetches commits, pull/merge requests and reviews authored by the token
owner in the given date range, restricted to the configured base branches,
and prints the deduplicated result as JSON, newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReport(cmd, false)
	},
}

var commitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "Aggregates commits from every branch and outputs them as JSON",
	Long: `Like report, but additionally enumerates every live branch and every
merged pull/merge request per repository, recovering commits that never
reached a base branch or whose source branch was deleted after merge.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReport(cmd, true)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(commitsCmd)
	for _, cmd := range []*cobra.Command{reportCmd, commitsCmd} {
		cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, required)")
		cmd.Flags().String("to", "", "End date (YYYY-MM-DD, defaults to today)")
		cmd.Flags().Bool("no-cache", false, "Skip reading and writing the contribution cache")
		cmd.MarkFlagRequired("from")
	}
}

func runReport(cmd *cobra.Command, allCommits bool) {
	ctx := context.Background()
	logger := newLogger(cmd)

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	from, to, err := parseRange(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	connectors := buildConnectors(cfg, logger)
	if len(connectors) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no data sources configured (set GITHUB_TOKEN or GITLAB_TOKEN).")
		os.Exit(1)
	}

	var store *cache.Store
	if noCache, _ := cmd.Flags().GetBool("no-cache"); !noCache {
		dir, _ := cmd.Flags().GetString("cache-dir")
		store = cache.NewStore(dir, cfg.BaseBranches, logger)
	}

	generator := usecase.NewGenerator(cfg, store, logger)
	var report []domain.Contribution
	if allCommits {
		report, err = generator.GenerateCommitsReport(ctx, connectors, from, to)
	} else {
		report, err = generator.GenerateReport(ctx, connectors, from, to)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate report: %v\n", err)
		os.Exit(1)
	}

	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal report to JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// buildConnectors constructs one connector per configured credential.
func buildConnectors(cfg *config.Config, logger *logrus.Logger) []gateway.Connector {
	var connectors []gateway.Connector

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		conn, err := github.NewConnector(token, cfg.BaseBranches, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create GitHub connector: %v\n", err)
			os.Exit(1)
		}
		connectors = append(connectors, conn)
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		conn, err := gitlab.NewConnector(token, os.Getenv("GITLAB_URL"), cfg.BaseBranches, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create GitLab connector: %v\n", err)
			os.Exit(1)
		}
		connectors = append(connectors, conn)
	}

	return connectors
}

// parseRange reads the --from/--to flags. The window spans the whole of
// both days, in UTC.
func parseRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	fromStr, _ := cmd.Flags().GetString("from")
	from, err := time.ParseInLocation(layout, fromStr, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date %q, expected YYYY-MM-DD", fromStr)
	}

	toStr, _ := cmd.Flags().GetString("to")
	var to time.Time
	if toStr == "" {
		to = time.Now().UTC()
	} else {
		day, err := time.ParseInLocation(layout, toStr, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date %q, expected YYYY-MM-DD", toStr)
		}
		to = day.AddDate(0, 0, 1).Add(-time.Second)
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", fromStr, toStr)
	}
	return from, to, nil
}
