package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/normalize"
)

// ErrSourceNotFound is returned by ScrapeSource for an unknown source name.
var ErrSourceNotFound = errors.New("source not found")

// ScrapeOptions controls one scrape invocation.
type ScrapeOptions struct {
	DryRun bool
	Limit  int // 0 = no limit
}

// ScrapeResult holds the outcome of one source.
type ScrapeResult struct {
	SourceName      string
	Site            string
	SourceURL       string
	Tier            int
	EventsFound     int
	EventsSubmitted int
	Skipped         int
	Accepted        bool
	Message         string
	Error           error
	DryRun          bool
}

// Scraper fetches configured sources and submits what it finds to the
// ingestion pipeline, one batch per source.
type Scraper struct {
	submit     Submitter
	fetcher    *Fetcher
	extractor  *CollyExtractor
	sourcesDir string
	logger     zerolog.Logger
}

// NewScraper wires a scraper. submit may be nil when only dry runs are made.
func NewScraper(submit Submitter, fetcher *Fetcher, extractor *CollyExtractor, sourcesDir string, logger zerolog.Logger) *Scraper {
	if sourcesDir == "" {
		sourcesDir = "configs/sources"
	}
	return &Scraper{
		submit:     submit,
		fetcher:    fetcher,
		extractor:  extractor,
		sourcesDir: sourcesDir,
		logger:     logger,
	}
}

// ScrapeURL extracts JSON-LD events from a single page. The site tag is
// derived from the URL hostname.
func (s *Scraper) ScrapeURL(ctx context.Context, rawURL string, opts ScrapeOptions) (ScrapeResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return ScrapeResult{}, fmt.Errorf("invalid url %q", rawURL)
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	source := SourceConfig{
		Name:    host,
		Site:    host,
		URL:     rawURL,
		Tier:    TierJSONLD,
		Enabled: true,
	}
	return s.scrape(ctx, source, opts), nil
}

// ScrapeSource scrapes the named source from the sources directory.
func (s *Scraper) ScrapeSource(ctx context.Context, name string, opts ScrapeOptions) (ScrapeResult, error) {
	configs, err := LoadSourceConfigs(s.sourcesDir)
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("loading source configs: %w", err)
	}
	for _, cfg := range configs {
		if !strings.EqualFold(cfg.Name, name) {
			continue
		}
		if !cfg.Enabled {
			return ScrapeResult{}, fmt.Errorf("source is disabled: %s", name)
		}
		return s.scrape(ctx, cfg, opts), nil
	}
	return ScrapeResult{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// ScrapeAll scrapes every enabled source. Per-source failures are recorded in
// ScrapeResult.Error and do not stop the run.
func (s *Scraper) ScrapeAll(ctx context.Context, opts ScrapeOptions) ([]ScrapeResult, error) {
	configs, err := LoadSourceConfigs(s.sourcesDir)
	if err != nil {
		return nil, fmt.Errorf("loading source configs: %w", err)
	}

	var results []ScrapeResult
	for _, cfg := range configs {
		if ctx.Err() != nil {
			break
		}
		if !cfg.Enabled {
			continue
		}
		results = append(results, s.scrape(ctx, cfg, opts))
	}
	return results, ctx.Err()
}

func (s *Scraper) scrape(ctx context.Context, source SourceConfig, opts ScrapeOptions) ScrapeResult {
	result := ScrapeResult{
		SourceName: source.Name,
		Site:       source.SiteTag(),
		SourceURL:  source.URL,
		Tier:       source.Tier,
		DryRun:     opts.DryRun,
	}
	logger := s.logger.With().Str("source", source.Name).Int("tier", source.Tier).Logger()

	records, skipped, err := s.extract(ctx, source, logger)
	if err != nil {
		result.Error = err
		logger.Warn().Err(err).Msg("scraper: extraction failed")
		return result
	}
	result.EventsFound = len(records) + skipped
	result.Skipped = skipped

	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	result.EventsSubmitted = len(records)

	if len(records) == 0 {
		logger.Info().Msg("scraper: no events found")
		return result
	}
	if opts.DryRun {
		result.Accepted = true
		result.Message = fmt.Sprintf("dry run: %d events not submitted", len(records))
		return result
	}
	if s.submit == nil {
		result.Error = errors.New("no ingestion target configured")
		return result
	}

	resp, err := s.submit.SubmitBatch(ctx, result.Site, records)
	if err != nil {
		result.Error = err
		logger.Error().Err(err).Msg("scraper: batch submission failed")
		return result
	}
	result.Accepted = resp.Success
	result.Message = resp.Message

	logger.Info().
		Int("found", result.EventsFound).
		Int("submitted", result.EventsSubmitted).
		Bool("accepted", result.Accepted).
		Str("message", result.Message).
		Msg("scraper: source complete")
	return result
}

// extract returns the raw records of a source and how many candidates were
// dropped before submission.
func (s *Scraper) extract(ctx context.Context, source SourceConfig, logger zerolog.Logger) ([]normalize.RawEvent, int, error) {
	switch source.Tier {
	case TierJSONLD:
		if s.fetcher == nil {
			return nil, 0, errors.New("JSON-LD fetcher not configured")
		}
		blocks, err := s.fetcher.FetchJSONLD(ctx, source.URL)
		if err != nil {
			return nil, 0, err
		}
		records := make([]normalize.RawEvent, 0, len(blocks))
		skipped := 0
		for _, block := range blocks {
			raw, err := FromJSONLD(block)
			if err != nil {
				logger.Debug().Err(err).Msg("scraper: skipping undecodable JSON-LD block")
				skipped++
				continue
			}
			records = append(records, raw)
		}
		return records, skipped, nil
	case TierSelectors:
		if s.extractor == nil {
			return nil, 0, errors.New("selector extractor not configured")
		}
		allowed := true
		if s.fetcher != nil {
			var err error
			if allowed, err = s.fetcher.RobotsAllowed(ctx, source.URL); err != nil {
				logger.Debug().Err(err).Msg("scraper: robots.txt check failed, continuing")
				allowed = true
			}
		}
		if !allowed {
			return nil, 0, fmt.Errorf("blocked by robots.txt: %s", source.URL)
		}
		records, err := s.extractor.ScrapeWithSelectors(ctx, source)
		return records, 0, err
	default:
		return nil, 0, fmt.Errorf("unknown tier %d for source %s", source.Tier, source.Name)
	}
}
