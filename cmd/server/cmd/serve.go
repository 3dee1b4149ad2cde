package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/api"
	"github.com/Togather-Foundation/catalog/internal/api/handlers"
	"github.com/Togather-Foundation/catalog/internal/config"
	"github.com/Togather-Foundation/catalog/internal/jobs"
	"github.com/Togather-Foundation/catalog/internal/metrics"
	"github.com/Togather-Foundation/catalog/internal/scraper"
	"github.com/Togather-Foundation/catalog/internal/storage/postgres"
	"github.com/Togather-Foundation/catalog/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the catalog HTTP server",
	Long: `Start the catalog HTTP server and the background job workers.

The server will:
- Load configuration from environment variables (and --env-file)
- Accept POST /api/ingest batches and serve /api/events
- Run queued batches, run-history pruning and scheduled scrapes through River
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	applyServeFlags(&cfg.Server)

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting catalog server")
	metrics.Init(Version, GitCommit, BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, telemetry.Options{
		Version:     Version,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.Error().Err(err).Msg("tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer runWithTimeout(5*time.Second, shutdownTracing, logger, "tracing shutdown")

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	p, err := newPipeline(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		return err
	}
	defer p.Close()

	if collector := metrics.NewPoolCollector(p.pool); metrics.Registry.Register(collector) == nil {
		defer metrics.Registry.Unregister(collector)
	}

	riverClient, err := newRiverClient(cfg, p, logger)
	if err != nil {
		return fmt.Errorf("river client: %w", err)
	}
	// Workers outlive the signal context so in-flight batches can finish
	// during the stop window below.
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Int("workers", cfg.Jobs.Workers).Msg("river workers started")
	defer runWithTimeout(10*time.Second, riverClient.Stop, logger, "river workers shutdown")

	var enqueuer handlers.BatchEnqueuer
	if cfg.Ingest.AsyncEnabled {
		enqueuer = jobs.NewEnqueuer(riverClient, cfg.Jobs.RetryBatchIngestion)
	}

	schema, err := postgres.EmbeddedSchemaVersion()
	if err != nil {
		logger.Warn().Err(err).Msg("reading embedded schema version; readiness will not compare migrations")
	}

	server := newHTTPServer(cfg.Server, api.NewRouter(api.Dependencies{
		Ingest:        p.ingest,
		Enqueuer:      enqueuer,
		Events:        p.events,
		Runs:          p.repo.Runs(),
		Database:      p.repo,
		SchemaVersion: int64(schema),
		ImagesRoot:    cfg.Images.Root,
		ImagesPrefix:  cfg.Images.PublicPrefix,
		MaxBodyBytes:  cfg.Ingest.MaxBodyBytes,
		Env:           cfg.Environment,
		Build:         buildInfo(),
		Logger:        logger,
	}))
	return serveUntilDone(ctx, server, logger)
}

func applyServeFlags(server *config.ServerConfig) {
	if serverHost != "" {
		server.Host = serverHost
	}
	if serverPort != 0 {
		server.Port = serverPort
	}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Batches can be large, and synchronous ones wait for image downloads.
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}
}

// serveUntilDone runs server until ctx is cancelled or the listener fails,
// then drains open requests for up to 30 seconds.
func serveUntilDone(ctx context.Context, server *http.Server, logger zerolog.Logger) error {
	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		listenErr <- server.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// runWithTimeout calls a shutdown hook under its own deadline and logs a failure.
func runWithTimeout(d time.Duration, fn func(context.Context) error, logger zerolog.Logger, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Msg(what)
	}
}

// newRiverClient registers the batch, cleanup and scrape workers. Scheduled
// scrapes submit in-process to the same ingest service the HTTP API uses.
func newRiverClient(cfg config.Config, p *pipeline, logger zerolog.Logger) (*river.Client[pgx.Tx], error) {
	slogger := newSlogLogger(cfg.Logging)
	runs := p.repo.Runs()

	deps := jobs.WorkerDeps{
		Ingest:       p.ingest,
		Runs:         runs,
		RunRetention: cfg.Jobs.RunRetention,
		Logger:       slogger,
	}
	if cfg.Jobs.ScrapeInterval > 0 {
		deps.Scraper = newScraper(cfg.Scraper, scraper.ServiceSubmitter{Service: p.ingest}, logger)
	}

	return jobs.NewClient(p.pool, jobs.NewWorkers(deps), jobs.ClientOptions{
		MaxWorkers:    cfg.Jobs.Workers,
		BatchAttempts: cfg.Jobs.RetryBatchIngestion,
		Hooks:         []rivertype.Hook{metrics.NewJobHook()},
		PeriodicJobs: jobs.NewPeriodicJobs(jobs.PeriodicOptions{
			RunsCleanupInterval: runsCleanupInterval(cfg.Jobs.RunRetention),
			ScrapeInterval:      cfg.Jobs.ScrapeInterval,
		}),
		Logger: slogger,
		Runs:   runs,
	})
}

// runsCleanupInterval prunes once a day when a retention is configured.
func runsCleanupInterval(retention time.Duration) time.Duration {
	if retention <= 0 {
		return 0
	}
	return 24 * time.Hour
}
