package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/Togather-Foundation/catalog/internal/ingest"
)

const (
	JobKindBatchIngestion = "batch_ingestion"
	JobKindRunsCleanup    = "ingestion_runs_cleanup"
	JobKindScrapeSources  = "scrape_sources"
)

const (
	BatchIngestionMaxAttempts = 3
	RunsCleanupMaxAttempts    = 3
	ScrapeSourcesMaxAttempts  = 1

	defaultMaxWorkers = 2
)

// Backoff is the retry budget of one job kind. The delay starts at Base,
// doubles with every attempt and stops growing at Cap. A zero Base retries
// at once.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// Delay is the wait before retrying after the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for n := 1; n < attempt; n++ {
		if b.Cap > 0 && delay >= b.Cap {
			break
		}
		delay *= 2
	}
	if b.Cap > 0 && delay > b.Cap {
		return b.Cap
	}
	return delay
}

var defaultBackoff = Backoff{MaxAttempts: 3, Base: 30 * time.Second, Cap: 30 * time.Minute}

// RetryPolicy is River's ClientRetryPolicy with a Backoff per job kind.
type RetryPolicy struct {
	kinds map[string]Backoff
	now   func() time.Time
}

// NewRetryPolicy returns the retry policy. batchAttempts overrides the
// attempt budget of batch ingestion jobs when positive.
func NewRetryPolicy(batchAttempts int) *RetryPolicy {
	if batchAttempts <= 0 {
		batchAttempts = BatchIngestionMaxAttempts
	}
	return &RetryPolicy{
		kinds: map[string]Backoff{
			// Batches usually fail on a database blip; retry soon.
			JobKindBatchIngestion: {MaxAttempts: batchAttempts, Base: 30 * time.Second, Cap: 5 * time.Minute},
			JobKindRunsCleanup:    {MaxAttempts: RunsCleanupMaxAttempts, Base: 5 * time.Minute, Cap: time.Hour},
			// The next scheduled scrape is the retry.
			JobKindScrapeSources: {MaxAttempts: ScrapeSourcesMaxAttempts},
		},
		now: time.Now,
	}
}

// For returns the backoff of a job kind; unknown kinds get the default.
func (p *RetryPolicy) For(kind string) Backoff {
	if p != nil {
		if b, ok := p.kinds[kind]; ok {
			return b
		}
	}
	return defaultBackoff
}

// NextRetry schedules the next attempt relative to the failed one.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	from := time.Now()
	if p != nil && p.now != nil {
		from = p.now()
	}
	if job.AttemptedAt != nil {
		from = *job.AttemptedAt
	}
	return from.Add(p.For(job.Kind).Delay(job.Attempt))
}

// InsertOpts returns the insert options of a job kind.
func (p *RetryPolicy) InsertOpts(kind string) river.InsertOpts {
	return river.InsertOpts{MaxAttempts: p.For(kind).MaxAttempts}
}

// ClientOptions carries the tunables of the River client.
type ClientOptions struct {
	MaxWorkers    int
	BatchAttempts int
	Hooks         []rivertype.Hook
	PeriodicJobs  []*river.PeriodicJob
	Logger        *slog.Logger

	// Runs receives an audit row for every batch that exhausts its attempts.
	Runs ingest.RunRecorder
}

// NewClientConfig builds a River client configuration with retry policy.
func NewClientConfig(workers *river.Workers, opts ClientOptions) *river.Config {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	policy := NewRetryPolicy(opts.BatchAttempts)
	config := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  defaultBackoff.MaxAttempts,
		PeriodicJobs: opts.PeriodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Hooks: opts.Hooks,
	}
	if opts.Logger != nil {
		config.Logger = opts.Logger
	}
	if opts.Logger != nil || opts.Runs != nil {
		config.ErrorHandler = NewFailureHandler(opts.Logger, opts.Runs)
	}
	return config
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, opts ClientOptions) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(workers, opts))
}

// PeriodicOptions selects which periodic jobs are scheduled.
type PeriodicOptions struct {
	// RunsCleanupInterval schedules pruning of old ingestion runs. Zero disables it.
	RunsCleanupInterval time.Duration
	// ScrapeInterval schedules a scrape of every configured source. Zero disables it.
	ScrapeInterval time.Duration
}

// NewPeriodicJobs creates the periodic job schedule. Periodic jobs only run
// on the elected leader, so replicas do not scrape twice.
func NewPeriodicJobs(opts PeriodicOptions) []*river.PeriodicJob {
	schedule := []struct {
		every time.Duration
		args  river.JobArgs
	}{
		{opts.RunsCleanupInterval, RunsCleanupArgs{}},
		{opts.ScrapeInterval, ScrapeSourcesArgs{}},
	}

	var periodic []*river.PeriodicJob
	for _, entry := range schedule {
		if entry.every <= 0 {
			continue
		}
		args := entry.args
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(entry.every),
			func() (river.JobArgs, *river.InsertOpts) { return args, nil },
			&river.PeriodicJobOpts{RunOnStart: false},
		))
	}
	return periodic
}

// MigrateRiver brings River's own tables up to date, or removes them when up
// is false.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool, up bool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("init river migrator: %w", err)
	}
	direction := rivermigrate.DirectionUp
	opts := &rivermigrate.MigrateOpts{}
	if !up {
		direction = rivermigrate.DirectionDown
		opts.TargetVersion = -1
	}
	if _, err := migrator.Migrate(ctx, direction, opts); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	return nil
}
