package jobs

import (
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	batch := Backoff{MaxAttempts: 3, Base: 30 * time.Second, Cap: 5 * time.Minute}

	for attempt, want := range map[int]time.Duration{
		0:  30 * time.Second,
		1:  30 * time.Second,
		2:  time.Minute,
		4:  4 * time.Minute,
		5:  5 * time.Minute,
		60: 5 * time.Minute,
	} {
		assert.Equal(t, want, batch.Delay(attempt), "attempt %d", attempt)
	}

	assert.Zero(t, Backoff{MaxAttempts: 1}.Delay(3), "zero base retries at once")
	assert.Equal(t, 8*time.Second, Backoff{Base: time.Second}.Delay(4), "no cap keeps doubling")
}

func TestRetryPolicy_Kinds(t *testing.T) {
	policy := NewRetryPolicy(0)

	assert.Equal(t, Backoff{MaxAttempts: BatchIngestionMaxAttempts, Base: 30 * time.Second, Cap: 5 * time.Minute}, policy.For(JobKindBatchIngestion))
	assert.Equal(t, Backoff{MaxAttempts: RunsCleanupMaxAttempts, Base: 5 * time.Minute, Cap: time.Hour}, policy.For(JobKindRunsCleanup))
	assert.Equal(t, Backoff{MaxAttempts: ScrapeSourcesMaxAttempts}, policy.For(JobKindScrapeSources))
	assert.Equal(t, defaultBackoff, policy.For("unknown-kind"))

	var nilPolicy *RetryPolicy
	assert.Equal(t, defaultBackoff, nilPolicy.For(JobKindBatchIngestion))
}

func TestRetryPolicy_BatchAttemptsOverride(t *testing.T) {
	policy := NewRetryPolicy(7)

	assert.Equal(t, 7, policy.For(JobKindBatchIngestion).MaxAttempts)
	assert.Equal(t, 7, policy.InsertOpts(JobKindBatchIngestion).MaxAttempts)
	assert.Equal(t, RunsCleanupMaxAttempts, policy.InsertOpts(JobKindRunsCleanup).MaxAttempts)
}

func TestRetryPolicy_NextRetry(t *testing.T) {
	attempted := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	clock := attempted.Add(time.Hour)
	policy := NewRetryPolicy(0)
	policy.now = func() time.Time { return clock }

	tests := []struct {
		name      string
		job       rivertype.JobRow
		wantAfter time.Time
	}{
		{
			name:      "batch second attempt counts from the attempt",
			job:       rivertype.JobRow{Kind: JobKindBatchIngestion, Attempt: 2, AttemptedAt: &attempted},
			wantAfter: attempted.Add(time.Minute),
		},
		{
			name:      "cleanup third attempt",
			job:       rivertype.JobRow{Kind: JobKindRunsCleanup, Attempt: 3, AttemptedAt: &attempted},
			wantAfter: attempted.Add(20 * time.Minute),
		},
		{
			name:      "scrape retries immediately",
			job:       rivertype.JobRow{Kind: JobKindScrapeSources, Attempt: 1, AttemptedAt: &attempted},
			wantAfter: attempted,
		},
		{
			name:      "no attempt time uses the clock",
			job:       rivertype.JobRow{Kind: JobKindBatchIngestion, Attempt: 1},
			wantAfter: clock.Add(30 * time.Second),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAfter, policy.NextRetry(&tt.job))
		})
	}
}

func TestNewPeriodicJobs(t *testing.T) {
	assert.Empty(t, NewPeriodicJobs(PeriodicOptions{}))
	assert.Len(t, NewPeriodicJobs(PeriodicOptions{RunsCleanupInterval: 24 * time.Hour}), 1)
	assert.Len(t, NewPeriodicJobs(PeriodicOptions{ScrapeInterval: -time.Minute}), 0)

	both := NewPeriodicJobs(PeriodicOptions{RunsCleanupInterval: 24 * time.Hour, ScrapeInterval: time.Hour})
	require.Len(t, both, 2)
	for _, job := range both {
		assert.NotNil(t, job)
	}
}

func TestNewClientConfig(t *testing.T) {
	config := NewClientConfig(river.NewWorkers(), ClientOptions{MaxWorkers: 4})
	assert.Equal(t, 4, config.Queues[river.QueueDefault].MaxWorkers)
	assert.Nil(t, config.ErrorHandler, "no logger and no run recorder")
	assert.Equal(t, defaultBackoff.MaxAttempts, config.MaxAttempts)

	config = NewClientConfig(river.NewWorkers(), ClientOptions{Runs: &fakeRunRecorder{}})
	handler, ok := config.ErrorHandler.(*FailureHandler)
	require.True(t, ok, "ErrorHandler = %T", config.ErrorHandler)
	assert.NotNil(t, handler.Logger, "falls back to the default logger")

	config = NewClientConfig(river.NewWorkers(), ClientOptions{})
	assert.Equal(t, defaultMaxWorkers, config.Queues[river.QueueDefault].MaxWorkers)
	_, isPolicy := config.RetryPolicy.(*RetryPolicy)
	assert.True(t, isPolicy)
}

func TestJobKindsDistinct(t *testing.T) {
	kinds := map[string]bool{}
	for _, args := range []river.JobArgs{BatchIngestionArgs{}, RunsCleanupArgs{}, ScrapeSourcesArgs{}} {
		kind := args.Kind()
		require.NotEmpty(t, kind)
		require.False(t, kinds[kind], "duplicate kind %s", kind)
		kinds[kind] = true
	}
	assert.Equal(t, map[string]bool{JobKindBatchIngestion: true, JobKindRunsCleanup: true, JobKindScrapeSources: true}, kinds)
}
