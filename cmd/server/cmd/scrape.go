package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/config"
	"github.com/Togather-Foundation/catalog/internal/scraper"
)

var (
	scrapeServerURL string
	scrapeDryRun    bool
	scrapeLimit     int
	scrapeSourceDir string

	scrapeTestConfig    string
	scrapeTestEventList string
	scrapeTestName      string
	scrapeTestDate      string
	scrapeTestVenue     string
	scrapeTestPrice     string
)

// scrapeCmd is the root command group for scraper subcommands.
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape events from configured sources",
	Long: `Scrape events from web sources and feed them through the ingestion pipeline.

Tier 0 sources are read from schema.org JSON-LD blocks. Tier 1 sources are
read with the CSS selectors of their YAML config.

Scraped batches are ingested in-process against DATABASE_URL, or posted to a
running server with --server. --dry-run extracts without submitting and needs
no database.

Examples:
  # Scrape a single URL
  server scrape url https://example.com/events

  # List configured sources
  server scrape list

  # Scrape a named source (dry-run)
  server scrape source bluenote --dry-run

  # Scrape all enabled sources through a running server
  server scrape all --server http://localhost:8080

  # Test CSS selectors against a live URL
  server scrape test https://example.com/events --event-list ".event" --name "h2"`,
}

var scrapeURLCmd = &cobra.Command{
	Use:   "url <URL>",
	Short: "Scrape JSON-LD events from a single URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScraper(cmd, func(ctx context.Context, s *scraper.Scraper) error {
			result, err := s.ScrapeURL(ctx, args[0], scrapeOptions())
			if err != nil {
				return fmt.Errorf("scrape url: %w", err)
			}
			return printScrapeResults(cmd.OutOrStdout(), []scraper.ScrapeResult{result})
		})
	},
}

var scrapeSourceCmd = &cobra.Command{
	Use:   "source <name>",
	Short: "Scrape a named configured source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScraper(cmd, func(ctx context.Context, s *scraper.Scraper) error {
			result, err := s.ScrapeSource(ctx, args[0], scrapeOptions())
			if err != nil {
				return fmt.Errorf("scrape source: %w", err)
			}
			return printScrapeResults(cmd.OutOrStdout(), []scraper.ScrapeResult{result})
		})
	},
}

var scrapeAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Scrape every enabled configured source",
	Long: `Scrape each enabled source in the sources directory.

Per-source errors are reported in the table but do not abort the run.
Exits with a non-zero status if any source failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScraper(cmd, func(ctx context.Context, s *scraper.Scraper) error {
			results, err := s.ScrapeAll(ctx, scrapeOptions())
			if printErr := printScrapeResults(cmd.OutOrStdout(), results); printErr != nil && err == nil {
				err = printErr
			}
			return err
		})
	},
}

var scrapeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured scrape sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := sourcesDir()
		configs, err := scraper.LoadSourceConfigs(dir)
		if err != nil {
			// Valid configs are still listed.
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		out := cmd.OutOrStdout()
		if len(configs) == 0 {
			fmt.Fprintf(out, "No source configs found in %s\n", dir)
			return nil
		}
		printSourceTable(out, configs)
		return nil
	},
}

var scrapeTestCmd = &cobra.Command{
	Use:   "test <URL>",
	Short: "Test CSS selectors against a live URL",
	Long: `Run tier 1 selectors against a live URL and print the raw records they
produce. Selectors come from flags or from a source config (--config); flags
win.

Examples:
  server scrape test https://example.com/events --event-list ".event" --name "h2" --date "time"
  server scrape test https://example.com/events --config configs/sources/example.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := scraper.DefaultSourceConfig()
		source.Name = "test"
		source.URL = args[0]
		source.Tier = scraper.TierSelectors
		source.MaxPages = 1

		if scrapeTestConfig != "" {
			loaded, err := scraper.LoadSourceConfig(scrapeTestConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			source.Selectors = loaded.Selectors
		}
		overrideSelector(&source.Selectors.EventList, scrapeTestEventList)
		overrideSelector(&source.Selectors.Name, scrapeTestName)
		overrideSelector(&source.Selectors.Date, scrapeTestDate)
		overrideSelector(&source.Selectors.Venue, scrapeTestVenue)
		overrideSelector(&source.Selectors.Price, scrapeTestPrice)
		if source.Selectors.EventList == "" {
			return errors.New("--event-list (or --config with selectors.event_list) is required")
		}

		cfg := config.LoadScraper()
		logger := config.NewLogger(config.LoadLogging())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		extractor := scraper.NewCollyExtractor(cfg.UserAgent, cfg.Timeout, logger)
		records, err := extractor.ScrapeWithSelectors(ctx, source)
		if err != nil {
			return fmt.Errorf("scrape test: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No events extracted.")
			return nil
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	scrapeCmd.AddCommand(scrapeURLCmd)
	scrapeCmd.AddCommand(scrapeSourceCmd)
	scrapeCmd.AddCommand(scrapeAllCmd)
	scrapeCmd.AddCommand(scrapeListCmd)
	scrapeCmd.AddCommand(scrapeTestCmd)

	scrapeCmd.PersistentFlags().StringVar(&scrapeServerURL, "server", "", "post batches to this catalog server instead of ingesting in-process")
	scrapeCmd.PersistentFlags().BoolVar(&scrapeDryRun, "dry-run", false, "extract events without submitting them")
	scrapeCmd.PersistentFlags().IntVar(&scrapeLimit, "limit", 0, "max events per source (0 = no limit)")
	scrapeCmd.PersistentFlags().StringVar(&scrapeSourceDir, "sources", "", "path to sources directory (default: SCRAPER_SOURCES_DIR or configs/sources)")

	scrapeTestCmd.Flags().StringVar(&scrapeTestConfig, "config", "", "YAML source config to load selectors from")
	scrapeTestCmd.Flags().StringVar(&scrapeTestEventList, "event-list", "", "CSS selector for each event container")
	scrapeTestCmd.Flags().StringVar(&scrapeTestName, "name", "", "CSS selector for the event title")
	scrapeTestCmd.Flags().StringVar(&scrapeTestDate, "date", "", "CSS selector for the event date")
	scrapeTestCmd.Flags().StringVar(&scrapeTestVenue, "venue", "", "CSS selector for the venue name")
	scrapeTestCmd.Flags().StringVar(&scrapeTestPrice, "price", "", "CSS selector for the price text")
}

func scrapeOptions() scraper.ScrapeOptions {
	return scraper.ScrapeOptions{DryRun: scrapeDryRun, Limit: scrapeLimit}
}

func sourcesDir() string {
	if scrapeSourceDir != "" {
		return scrapeSourceDir
	}
	return config.LoadScraper().SourcesDir
}

func overrideSelector(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

// withScraper builds a scraper wired to the right submitter and runs fn with
// a signal-aware context. Dry runs and remote submissions skip the database.
func withScraper(cmd *cobra.Command, fn func(context.Context, *scraper.Scraper) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadScraper()
	cfg.SourcesDir = sourcesDir()
	logging := config.LoadLogging()
	if logLevel != "" {
		logging.Level = logLevel
	}
	if logFormat != "" {
		logging.Format = logFormat
	}
	logger := config.NewLogger(logging)

	var submit scraper.Submitter
	switch {
	case scrapeDryRun:
	case scrapeServerURL != "":
		submit = scraper.NewIngestClient(scrapeServerURL, cfg.UserAgent, cfg.Timeout)
	default:
		full, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w (use --server or --dry-run to scrape without a database)", err)
		}
		p, err := newPipeline(ctx, full, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		submit = scraper.ServiceSubmitter{Service: p.ingest}
	}

	return fn(ctx, newScraper(cfg, submit, logger))
}

// printScrapeResults writes one row per source and returns an error when any
// source failed.
func printScrapeResults(out io.Writer, results []scraper.ScrapeResult) error {
	if len(results) == 0 {
		fmt.Fprintln(out, "No sources scraped.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSITE\tTIER\tFOUND\tSKIPPED\tSUBMITTED\tSTATUS")

	var found, skipped, submitted, failures int
	for _, r := range results {
		status := r.Message
		switch {
		case r.Error != nil:
			status = "error: " + r.Error.Error()
			failures++
		case status == "":
			status = "ok"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.SourceName, r.Site, r.Tier, r.EventsFound, r.Skipped, r.EventsSubmitted, status)
		found += r.EventsFound
		skipped += r.Skipped
		submitted += r.EventsSubmitted
	}
	if len(results) > 1 {
		fmt.Fprintf(tw, "TOTAL\t\t\t%d\t%d\t%d\t\n", found, skipped, submitted)
	}
	_ = tw.Flush()

	if failures > 0 {
		return fmt.Errorf("%d of %d sources failed", failures, len(results))
	}
	return nil
}

func printSourceTable(out io.Writer, configs []scraper.SourceConfig) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSITE\tTIER\tENABLED\tURL")
	for _, c := range configs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\n", c.Name, c.SiteTag(), c.Tier, c.Enabled, c.URL)
	}
	_ = tw.Flush()
}
