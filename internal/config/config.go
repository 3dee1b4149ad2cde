package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/validation"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Logging      LoggingConfig
	Tracing      TracingConfig
	Images       ImagesConfig
	TextAnalysis TextAnalysisConfig
	Ingest       IngestConfig
	Jobs         JobsConfig
	Scraper      ScraperConfig
	Environment  string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

// ImagesConfig controls the content-addressed image cache.
type ImagesConfig struct {
	Root            string
	PublicPrefix    string
	Concurrency     int
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	PerHostRate     float64
	PlaceholderPath string
}

// TextAnalysisConfig configures the external free-text conversion endpoint.
// An empty URL or APIKey disables the collaborator.
type TextAnalysisConfig struct {
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	RateLimit   float64
}

func (c TextAnalysisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.APIKey) != ""
}

type IngestConfig struct {
	// AllowedSites restricts the multi-source request form. Empty allows every site.
	AllowedSites []string
	MaxBodyBytes int64
	AsyncEnabled bool
}

type JobsConfig struct {
	RetryBatchIngestion int
	Workers             int
	RunRetention        time.Duration

	// ScrapeInterval schedules a periodic scrape of every configured source.
	// Zero disables it.
	ScrapeInterval time.Duration
}

type ScraperConfig struct {
	SourcesDir string
	UserAgent  string

	// IngestURL is the base URL of the ingestion boundary scraped batches are posted to.
	IngestURL string
	Timeout   time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Logging: LoadLogging(),
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "catalog"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Images: ImagesConfig{
			Root:            getEnv("IMAGES_ROOT", "data/images/events"),
			PublicPrefix:    getEnv("IMAGES_PUBLIC_PREFIX", "/images/events"),
			Concurrency:     getEnvInt("IMAGE_CONCURRENCY", 5),
			Timeout:         getEnvDuration("IMAGE_TIMEOUT", 15*time.Second),
			MaxAttempts:     getEnvInt("IMAGE_MAX_ATTEMPTS", 3),
			RetryDelay:      getEnvDuration("IMAGE_RETRY_DELAY", 500*time.Millisecond),
			PerHostRate:     getEnvFloat("IMAGE_PER_HOST_RATE", 4),
			PlaceholderPath: getEnv("IMAGE_PLACEHOLDER", ""),
		},
		TextAnalysis: TextAnalysisConfig{
			URL:         getEnv("TEXT_ANALYSIS_URL", ""),
			APIKey:      getEnv("TEXT_ANALYSIS_API_KEY", ""),
			Model:       getEnv("TEXT_ANALYSIS_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("TEXT_ANALYSIS_MAX_TOKENS", 2000),
			Temperature: getEnvFloat("TEXT_ANALYSIS_TEMPERATURE", 0),
			Timeout:     getEnvDuration("TEXT_ANALYSIS_TIMEOUT", 60*time.Second),
			RateLimit:   getEnvFloat("TEXT_ANALYSIS_RATE_LIMIT", 2),
		},
		Ingest: IngestConfig{
			AllowedSites: getEnvList("INGEST_ALLOWED_SITES"),
			MaxBodyBytes: int64(getEnvInt("INGEST_MAX_BODY_BYTES", 10<<20)),
			AsyncEnabled: getEnvBool("INGEST_ASYNC_ENABLED", true),
		},
		Jobs: JobsConfig{
			RetryBatchIngestion: getEnvInt("JOB_RETRY_BATCH_INGESTION", 3),
			Workers:             getEnvInt("JOB_WORKERS", 2),
			RunRetention:        getEnvDuration("JOB_RUN_RETENTION", 30*24*time.Hour),
			ScrapeInterval:      getEnvDuration("JOB_SCRAPE_INTERVAL", 0),
		},
		Scraper:     LoadScraper(),
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate reports every problem at once so a bad deployment is fixed in
// one pass.
func (c Config) validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Images.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("IMAGE_CONCURRENCY must be > 0, got %d", c.Images.Concurrency))
	}
	if c.Images.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("IMAGE_MAX_ATTEMPTS must be > 0, got %d", c.Images.MaxAttempts))
	}
	if c.TextAnalysis.URL != "" && c.TextAnalysis.APIKey == "" {
		errs = append(errs, errors.New("TEXT_ANALYSIS_API_KEY is required when TEXT_ANALYSIS_URL is set"))
	}
	errs = append(errs,
		validation.ValidateBaseURL(c.Server.BaseURL, "SERVER_BASE_URL"),
		validation.ValidateBaseURL(c.Scraper.IngestURL, "SCRAPER_INGEST_URL"),
		validation.ValidateURL(c.TextAnalysis.URL, "TEXT_ANALYSIS_URL"),
	)
	return errors.Join(errs...)
}

func LoadLogging() LoggingConfig {
	return LoggingConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}
}

// LoadScraper reads only the scraper settings. Dry runs and remote scrapes
// use it without a database.
func LoadScraper() ScraperConfig {
	return ScraperConfig{
		SourcesDir: getEnv("SCRAPER_SOURCES_DIR", "configs/sources"),
		UserAgent:  getEnv("SCRAPER_USER_AGENT", "CatalogScraper/1.0 (+https://github.com/Togather-Foundation/catalog)"),
		IngestURL:  getEnv("SCRAPER_INGEST_URL", getEnv("SERVER_BASE_URL", "http://localhost:8080")),
		Timeout:    getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
	}
}

// LoadEnvFile reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envAs parses key with parse. Unset or unparsable values yield fallback.
func envAs[T any](key string, fallback T, parse func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := parse(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	return envAs(key, fallback, strconv.Atoi)
}

func getEnvFloat(key string, fallback float64) float64 {
	return envAs(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvBool(key string, fallback bool) bool {
	return envAs(key, fallback, strconv.ParseBool)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	return envAs(key, fallback, time.ParseDuration)
}

// getEnvList splits a comma-separated value and drops empty entries.
func getEnvList(key string) []string {
	var list []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
