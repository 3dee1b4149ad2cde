package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/scraper"
)

type fakeIngester struct {
	result ingest.BatchResult
	err    error
	site   string
	got    []normalize.RawEvent
	multi  []ingest.TaggedRecord
}

func (f *fakeIngester) IngestBatch(_ context.Context, site string, records []normalize.RawEvent) (ingest.BatchResult, error) {
	f.site = site
	f.got = records
	return f.result, f.err
}

func (f *fakeIngester) IngestMulti(_ context.Context, records []ingest.TaggedRecord) (ingest.BatchResult, error) {
	f.multi = records
	return f.result, f.err
}

func batchJob(site string, events ...normalize.RawEvent) *river.Job[BatchIngestionArgs] {
	return &river.Job[BatchIngestionArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Kind: JobKindBatchIngestion, Attempt: 1},
		Args:   BatchIngestionArgs{Site: site, Events: events},
	}
}

func isCancel(err error) bool {
	var cancel *rivertype.JobCancelError
	return errors.As(err, &cancel)
}

func TestBatchIngestionArgs_KeepsNumbersExact(t *testing.T) {
	var args BatchIngestionArgs
	if err := json.Unmarshal([]byte(`{"site":"bluenote","events":[{"title":"Late Set","prices":[{"amount":4500.10}]}]}`), &args); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if args.Site != "bluenote" || len(args.Events) != 1 {
		t.Fatalf("unexpected args: %+v", args)
	}
	prices := args.Events[0]["prices"].([]any)
	amount, ok := prices[0].(map[string]any)["amount"].(json.Number)
	if !ok || amount.String() != "4500.10" {
		t.Errorf("amount = %#v, want json.Number 4500.10", prices[0].(map[string]any)["amount"])
	}
}

func TestBatchIngestionWorker_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ing := &fakeIngester{result: ingest.BatchResult{Received: 1, Processed: 1}}
		err := BatchIngestionWorker{Ingest: ing}.Work(ctx, batchJob("bluenote", normalize.RawEvent{"title": "a"}))
		if err != nil {
			t.Fatalf("Work() error = %v", err)
		}
		if ing.site != "bluenote" || len(ing.got) != 1 {
			t.Errorf("ingester got site=%q records=%d", ing.site, len(ing.got))
		}
	})

	t.Run("content rejection cancels", func(t *testing.T) {
		ing := &fakeIngester{result: ingest.BatchResult{Received: 2, Skipped: 2}, err: ingest.ErrNoRecordsProcessed}
		err := BatchIngestionWorker{Ingest: ing}.Work(ctx, batchJob("bluenote", normalize.RawEvent{}, normalize.RawEvent{}))
		if !isCancel(err) {
			t.Fatalf("Work() error = %v, want JobCancel", err)
		}
	})

	t.Run("infrastructure failure retries", func(t *testing.T) {
		ing := &fakeIngester{result: ingest.BatchResult{Received: 2, Failed: 2}, err: ingest.ErrNoRecordsProcessed}
		err := BatchIngestionWorker{Ingest: ing}.Work(ctx, batchJob("bluenote", normalize.RawEvent{}, normalize.RawEvent{}))
		if err == nil || isCancel(err) {
			t.Fatalf("Work() error = %v, want retryable error", err)
		}
		if !errors.Is(err, ingest.ErrNoRecordsProcessed) {
			t.Errorf("Work() error = %v, want wrapped ErrNoRecordsProcessed", err)
		}
	})

	t.Run("multi-source form", func(t *testing.T) {
		ing := &fakeIngester{result: ingest.BatchResult{Received: 2, Processed: 2}}
		err := BatchIngestionWorker{Ingest: ing}.Work(ctx, batchJob("",
			normalize.RawEvent{"title": "a", "site": "bluenote"},
			normalize.RawEvent{"title": "b", "site": "quattro"},
		))
		if err != nil {
			t.Fatalf("Work() error = %v", err)
		}
		if len(ing.multi) != 2 || ing.got != nil {
			t.Errorf("expected IngestMulti with 2 records, got multi=%d batch=%d", len(ing.multi), len(ing.got))
		}
	})

	t.Run("not configured", func(t *testing.T) {
		if err := (BatchIngestionWorker{}).Work(ctx, batchJob("bluenote")); err == nil {
			t.Fatal("expected error without ingest service")
		}
	})

	t.Run("nil job", func(t *testing.T) {
		if err := (BatchIngestionWorker{Ingest: &fakeIngester{}}).Work(ctx, nil); err == nil {
			t.Fatal("expected error for nil job")
		}
	})
}

type fakePruner struct {
	cutoff  time.Time
	deleted int64
	err     error
	calls   int
}

func (f *fakePruner) PruneRuns(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestRunsCleanupWorker_Work(t *testing.T) {
	now := time.Date(2025, 6, 30, 3, 0, 0, 0, time.UTC)
	job := &river.Job[RunsCleanupArgs]{JobRow: &rivertype.JobRow{Kind: JobKindRunsCleanup}}

	pruner := &fakePruner{deleted: 4}
	w := RunsCleanupWorker{Runs: pruner, Retention: 30 * 24 * time.Hour, Now: func() time.Time { return now }}
	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("Work() error = %v", err)
	}
	if want := time.Date(2025, 5, 31, 3, 0, 0, 0, time.UTC); !pruner.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.cutoff, want)
	}

	disabled := &fakePruner{}
	if err := (RunsCleanupWorker{Runs: disabled}).Work(context.Background(), job); err != nil {
		t.Fatalf("Work() error = %v", err)
	}
	if disabled.calls != 0 {
		t.Error("zero retention should not prune")
	}

	failing := &fakePruner{err: errors.New("db down")}
	if err := (RunsCleanupWorker{Runs: failing, Retention: time.Hour}).Work(context.Background(), job); err == nil {
		t.Fatal("expected prune error to propagate")
	}

	if err := (RunsCleanupWorker{}).Work(context.Background(), job); err == nil {
		t.Fatal("expected error without repository")
	}
}

type fakeScraper struct {
	results []scraper.ScrapeResult
	err     error
	opts    scraper.ScrapeOptions
}

func (f *fakeScraper) ScrapeAll(_ context.Context, opts scraper.ScrapeOptions) ([]scraper.ScrapeResult, error) {
	f.opts = opts
	return f.results, f.err
}

func TestScrapeSourcesWorker_Work(t *testing.T) {
	job := &river.Job[ScrapeSourcesArgs]{JobRow: &rivertype.JobRow{Kind: JobKindScrapeSources}, Args: ScrapeSourcesArgs{Limit: 50}}

	s := &fakeScraper{results: []scraper.ScrapeResult{
		{SourceName: "bluenote", EventsFound: 3, EventsSubmitted: 3, Accepted: true},
		{SourceName: "broken", Error: errors.New("timeout")},
	}}
	if err := (ScrapeSourcesWorker{Scraper: s}).Work(context.Background(), job); err != nil {
		t.Fatalf("Work() error = %v, per-source failures must not fail the job", err)
	}
	if s.opts.Limit != 50 {
		t.Errorf("Limit = %d, want 50", s.opts.Limit)
	}

	if err := (ScrapeSourcesWorker{Scraper: &fakeScraper{err: errors.New("bad config dir")}}).Work(context.Background(), job); err == nil {
		t.Fatal("expected load error to propagate")
	}
	if err := (ScrapeSourcesWorker{}).Work(context.Background(), job); err == nil {
		t.Fatal("expected error without scraper")
	}
}

func TestWorkerKinds(t *testing.T) {
	if got := (BatchIngestionWorker{}).Kind(); got != JobKindBatchIngestion {
		t.Errorf("BatchIngestionWorker.Kind() = %q", got)
	}
	if got := (RunsCleanupWorker{}).Kind(); got != JobKindRunsCleanup {
		t.Errorf("RunsCleanupWorker.Kind() = %q", got)
	}
	if got := (ScrapeSourcesWorker{}).Kind(); got != JobKindScrapeSources {
		t.Errorf("ScrapeSourcesWorker.Kind() = %q", got)
	}
	if got := (BatchIngestionArgs{}).Kind(); got != JobKindBatchIngestion {
		t.Errorf("BatchIngestionArgs.Kind() = %q", got)
	}
}

func TestNewWorkers(t *testing.T) {
	if NewWorkers(WorkerDeps{}) == nil {
		t.Fatal("NewWorkers() returned nil")
	}
	workers := NewWorkers(WorkerDeps{Ingest: &fakeIngester{}, Runs: &fakePruner{}, Scraper: &fakeScraper{}})
	if workers == nil {
		t.Fatal("NewWorkers() returned nil")
	}
}
