// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contribtrack",
	Short: "A CLI tool to aggregate a developer's activity across hosting platforms.",
	Long: `contribtrack aggregates one developer's activity (commits, pull/merge
requests, code reviews) across GitHub and GitLab into a single normalized,
deduplicated, chronologically ordered list, for personal reporting and
billing. Credentials come from the GITHUB_TOKEN and GITLAB_TOKEN
environment variables.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("config", defaultConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().String("cache-dir", defaultCacheDir(), "Directory holding cached contribution history")
}

// newLogger builds the logger shared by all components. Logs go to stderr
// so report JSON on stdout stays clean.
func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "contribtrack", "config.json")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "contribtrack")
}
