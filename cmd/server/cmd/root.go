package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/config"
)

// Flags shared by every subcommand. The log flags override LOG_LEVEL and
// LOG_FORMAT.
var (
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Catalog server - event ingestion and normalization pipeline",
	Long: `Catalog server ingests event listings scraped from venue sites, normalizes
them into canonical records and stores them in PostgreSQL.

Without a subcommand it runs "serve". Other subcommands:
  ingest    post or apply a {"site": ..., "events": [...]} batch file
  scrape    collect events from JSON-LD and CSS-selector sources
  migrate   apply or roll back database migrations
  version   print build information`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			config.LoadEnvFile(envFile)
		}
		return checkLogFlags(logLevel, logFormat)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the command tree; main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "KEY=VALUE file loaded before the environment is read")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error (default from LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", "", "log format: json or console (default from LOG_FORMAT)")

	rootCmd.AddCommand(serveCmd, migrateCmd, ingestCmd, scrapeCmd, versionCmd)
}

// checkLogFlags rejects values the logger would otherwise silently replace
// with its defaults. Empty values defer to the environment.
func checkLogFlags(level, format string) error {
	if l := strings.ToLower(level); l != "" && l != "warning" {
		if _, err := zerolog.ParseLevel(l); err != nil {
			return fmt.Errorf("--log-level: unknown level %q", level)
		}
	}
	switch strings.ToLower(format) {
	case "", "json", "console", "text", "pretty":
		return nil
	default:
		return fmt.Errorf("--log-format: unknown format %q (want json or console)", format)
	}
}
