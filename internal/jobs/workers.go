package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/scraper"
)

// BatchIngestionArgs carries one {site, events} submission accepted with
// ?async=true. An empty Site is the multi-source form.
type BatchIngestionArgs struct {
	Site   string               `json:"site"`
	Events []normalize.RawEvent `json:"events"`
}

func (BatchIngestionArgs) Kind() string { return JobKindBatchIngestion }

// UnmarshalJSON keeps numeric event fields as json.Number so prices survive
// the round trip through the job table unchanged.
func (a *BatchIngestionArgs) UnmarshalJSON(data []byte) error {
	type plain BatchIngestionArgs
	var out plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*a = BatchIngestionArgs(out)
	return nil
}

// BatchIngester is the slice of ingest.Service the batch worker needs.
type BatchIngester interface {
	IngestBatch(ctx context.Context, site string, records []normalize.RawEvent) (ingest.BatchResult, error)
	IngestMulti(ctx context.Context, records []ingest.TaggedRecord) (ingest.BatchResult, error)
}

// BatchIngestionWorker runs queued batches through the ingestion pipeline.
type BatchIngestionWorker struct {
	river.WorkerDefaults[BatchIngestionArgs]
	Ingest BatchIngester
	Logger *slog.Logger
}

func (BatchIngestionWorker) Kind() string { return JobKindBatchIngestion }

func (w BatchIngestionWorker) Work(ctx context.Context, job *river.Job[BatchIngestionArgs]) error {
	if w.Ingest == nil {
		return fmt.Errorf("ingest service not configured")
	}
	if job == nil {
		return fmt.Errorf("batch ingestion job missing")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	site := job.Args.Site
	var (
		result ingest.BatchResult
		err    error
	)
	if site == "" {
		site = ingest.MultiSiteLabel
		tagged := make([]ingest.TaggedRecord, len(job.Args.Events))
		for i, rec := range job.Args.Events {
			tagged[i] = ingest.TaggedRecord{Record: rec}
		}
		result, err = w.Ingest.IngestMulti(ctx, tagged)
	} else {
		result, err = w.Ingest.IngestBatch(ctx, site, job.Args.Events)
	}
	if errors.Is(err, ingest.ErrNoRecordsProcessed) && result.Failed == 0 {
		// Every record was rejected on content; another attempt cannot help.
		logger.Warn("batch ingestion rejected every record",
			"job_id", job.ID,
			"site", site,
			"received", result.Received,
			"skipped", result.Skipped,
		)
		return river.JobCancel(err)
	}
	if err != nil {
		return &batchError{site: site, runID: result.RunID, err: err}
	}

	logger.Info("batch ingestion complete",
		"job_id", job.ID,
		"site", site,
		"run_id", result.RunID,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return nil
}

// RunsCleanupArgs defines the job that prunes old ingestion run rows.
type RunsCleanupArgs struct{}

func (RunsCleanupArgs) Kind() string { return JobKindRunsCleanup }

// RunPruner deletes finished runs that started before cutoff.
type RunPruner interface {
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunsCleanupWorker removes ingestion runs older than Retention.
type RunsCleanupWorker struct {
	river.WorkerDefaults[RunsCleanupArgs]
	Runs      RunPruner
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func (RunsCleanupWorker) Kind() string { return JobKindRunsCleanup }

func (w RunsCleanupWorker) Work(ctx context.Context, job *river.Job[RunsCleanupArgs]) error {
	if w.Runs == nil {
		return fmt.Errorf("runs repository not configured")
	}
	if w.Retention <= 0 {
		return nil
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	cutoff := now().Add(-w.Retention)
	deleted, err := w.Runs.PruneRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune ingestion runs: %w", err)
	}
	logger.Info("pruned ingestion runs", "deleted_count", deleted, "cutoff", cutoff)
	return nil
}

// ScrapeSourcesArgs defines the job that scrapes every configured source.
type ScrapeSourcesArgs struct {
	Limit int `json:"limit,omitempty"`
}

func (ScrapeSourcesArgs) Kind() string { return JobKindScrapeSources }

// SourceScraper is the slice of scraper.Scraper the scrape worker needs.
type SourceScraper interface {
	ScrapeAll(ctx context.Context, opts scraper.ScrapeOptions) ([]scraper.ScrapeResult, error)
}

// ScrapeSourcesWorker scrapes all enabled sources and submits their batches.
// Individual source failures are logged and do not fail the job.
type ScrapeSourcesWorker struct {
	river.WorkerDefaults[ScrapeSourcesArgs]
	Scraper SourceScraper
	Logger  *slog.Logger
}

func (ScrapeSourcesWorker) Kind() string { return JobKindScrapeSources }

func (w ScrapeSourcesWorker) Timeout(*river.Job[ScrapeSourcesArgs]) time.Duration {
	return 30 * time.Minute
}

func (w ScrapeSourcesWorker) Work(ctx context.Context, job *river.Job[ScrapeSourcesArgs]) error {
	if w.Scraper == nil {
		return fmt.Errorf("scraper not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results, err := w.Scraper.ScrapeAll(ctx, scraper.ScrapeOptions{Limit: job.Args.Limit})
	if err != nil {
		return fmt.Errorf("scrape sources: %w", err)
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			logger.Warn("source scrape failed", "source", r.SourceName, "error", r.Error)
			continue
		}
		logger.Info("source scraped",
			"source", r.SourceName,
			"found", r.EventsFound,
			"submitted", r.EventsSubmitted,
			"accepted", r.Accepted,
			"message", r.Message,
		)
	}
	logger.Info("scrape run complete", "sources", len(results), "failed", failed)
	return nil
}

// WorkerDeps lists the collaborators of the registered workers. Nil entries
// leave the matching worker unregistered.
type WorkerDeps struct {
	Ingest       BatchIngester
	Runs         RunPruner
	RunRetention time.Duration
	Scraper      SourceScraper
	Logger       *slog.Logger
}

// NewWorkers registers every worker whose dependencies are present.
func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	if deps.Ingest != nil {
		river.AddWorker[BatchIngestionArgs](workers, BatchIngestionWorker{Ingest: deps.Ingest, Logger: deps.Logger})
	}
	if deps.Runs != nil {
		river.AddWorker[RunsCleanupArgs](workers, RunsCleanupWorker{Runs: deps.Runs, Retention: deps.RunRetention, Logger: deps.Logger})
	}
	if deps.Scraper != nil {
		river.AddWorker[ScrapeSourcesArgs](workers, ScrapeSourcesWorker{Scraper: deps.Scraper, Logger: deps.Logger})
	}
	return workers
}

// batchError is a failed batch attempt. runID is the audit row the attempt
// opened, or zero when it failed before opening one.
type batchError struct {
	site  string
	runID int64
	err   error
}

func (e *batchError) Error() string { return fmt.Sprintf("ingest batch for %s: %v", e.site, e.err) }
func (e *batchError) Unwrap() error { return e.err }
