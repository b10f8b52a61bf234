// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"contribtrack/internal/cache"
	"contribtrack/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects or clears the local contribution cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints per-identity cache metadata as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore(cmd)
		metas, err := store.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read cache status: %v\n", err)
			os.Exit(1)
		}
		jsonData, err := json.MarshalIndent(metas, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal cache status: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deletes all cached contribution history",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore(cmd)
		deleted, err := store.Clear()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d cache file(s).\n", deleted)
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openStore(cmd *cobra.Command) *cache.Store {
	logger := newLogger(cmd)
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	dir, _ := cmd.Flags().GetString("cache-dir")
	return cache.NewStore(dir, cfg.BaseBranches, logger)
}
