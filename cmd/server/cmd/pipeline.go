package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/config"
	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/domain/venues"
	"github.com/Togather-Foundation/catalog/internal/imagecache"
	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/scraper"
	"github.com/Togather-Foundation/catalog/internal/storage/postgres"
	"github.com/Togather-Foundation/catalog/internal/textanalysis"
)

// pipeline is the wired ingestion stack shared by serve, ingest and scrape.
type pipeline struct {
	pool   *pgxpool.Pool
	repo   *postgres.Repository
	ingest *ingest.Service
	events *events.Service
}

func (p *pipeline) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newPipeline(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*pipeline, error) {
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	normOpts := []normalize.Option{normalize.WithLogger(logger.With().Str("component", "normalize").Logger())}
	if cfg.TextAnalysis.Enabled() {
		client := textanalysis.NewClient(cfg.TextAnalysis.URL, cfg.TextAnalysis.APIKey,
			textanalysis.WithModel(cfg.TextAnalysis.Model),
			textanalysis.WithMaxTokens(cfg.TextAnalysis.MaxTokens),
			textanalysis.WithTemperature(cfg.TextAnalysis.Temperature),
			textanalysis.WithTimeout(cfg.TextAnalysis.Timeout),
			textanalysis.WithRateLimit(cfg.TextAnalysis.RateLimit),
			textanalysis.WithLogger(logger.With().Str("component", "textanalysis").Logger()),
		)
		normOpts = append(normOpts, normalize.WithCompleter(client))
	} else {
		logger.Warn().Msg("text analysis disabled; free-text dates, schedules and prices use local parsing only")
	}

	images, err := newImageCache(cfg.Images, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	svc := ingest.NewService(ingest.Dependencies{
		Normalizer:   normalize.New(normOpts...),
		Venues:       venues.NewResolver(repo.Venues()),
		Events:       events.NewEngine(repo.Events(), logger.With().Str("component", "events").Logger()),
		Associations: events.NewAssociations(repo.Events()),
		Images:       images,
		Runs:         repo.Runs(),
	},
		ingest.WithAllowedSites(cfg.Ingest.AllowedSites),
		ingest.WithImageConcurrency(cfg.Images.Concurrency),
		ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
	)

	return &pipeline{
		pool:   pool,
		repo:   repo,
		ingest: svc,
		events: events.NewService(repo.Events()),
	}, nil
}

func newImageCache(cfg config.ImagesConfig, logger zerolog.Logger) (*imagecache.Cache, error) {
	opts := []imagecache.Option{
		imagecache.WithPublicPrefix(cfg.PublicPrefix),
		imagecache.WithTimeout(cfg.Timeout),
		imagecache.WithMaxAttempts(cfg.MaxAttempts),
		imagecache.WithRetryDelay(cfg.RetryDelay),
		imagecache.WithPerHostRate(cfg.PerHostRate),
		imagecache.WithLogger(logger.With().Str("component", "imagecache").Logger()),
	}
	if cfg.PlaceholderPath != "" {
		data, err := imagecache.LoadPlaceholder(cfg.PlaceholderPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, imagecache.WithPlaceholder(data))
	}
	return imagecache.New(cfg.Root, opts...), nil
}

func newScraper(cfg config.ScraperConfig, submit scraper.Submitter, logger zerolog.Logger) *scraper.Scraper {
	scrapeLogger := logger.With().Str("component", "scraper").Logger()
	client := &http.Client{Timeout: cfg.Timeout}
	return scraper.NewScraper(
		submit,
		scraper.NewFetcher(client, cfg.UserAgent, scrapeLogger),
		scraper.NewCollyExtractor(cfg.UserAgent, cfg.Timeout, scrapeLogger),
		cfg.SourcesDir,
		scrapeLogger,
	)
}

// newSlogLogger builds the structured logger River expects.
func newSlogLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
