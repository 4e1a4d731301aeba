// Package cli implements the scrapesched command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

// Root builds the full command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "scrapesched",
		Short: "Scheduler for recurring scraping jobs",
		Long: `scrapesched schedules named scraping configurations for recurring
or one-shot execution.

Jobs live in a local sqlite database; the scheduler daemon polls it and runs
due jobs through the configured scrape command, with retries, run history and
success/failure callbacks.

Examples:
  scrapesched job create news --schedule-type daily --time 09:00
  scrapesched job create prices --cron "*/15 * * * *"
  scrapesched job list
  scrapesched scheduler start
  scrapesched scheduler status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file (yaml or json)")

	root.AddCommand(jobCmd())
	root.AddCommand(schedulerCmd())
	root.AddCommand(storeCmd())
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SCRAPESCHED_CONFIG"); p != "" {
		return p
	}
	return "./scrapesched.yaml"
}
