package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Background job metrics. The kind label is the River job kind, e.g.
// ingest_batch or scrape_sources.
var (
	JobsEnqueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of background jobs enqueued",
		},
		[]string{"kind"},
	)

	JobsRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Background jobs currently being worked",
		},
		[]string{"kind"},
	)

	// JobQueueWait is the delay between a job becoming due and a worker
	// picking it up. Async ingest batches wait here.
	JobQueueWait = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_queue_wait_seconds",
			Help:      "Time a due job waited for a worker",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)

	JobRunDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Background job attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)

	JobOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Finished job attempts by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: success|retry|discarded
	)
)

// JobHook records job metrics from River's lifecycle callbacks. Timing comes
// from the job row itself, so the hook keeps no state.
type JobHook struct {
	river.HookDefaults

	now func() time.Time
}

func NewJobHook() *JobHook {
	return &JobHook{now: time.Now}
}

func (h *JobHook) InsertBegin(ctx context.Context, params *rivertype.JobInsertParams) error {
	JobsEnqueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *JobHook) WorkBegin(ctx context.Context, job *rivertype.JobRow) error {
	JobsRunning.WithLabelValues(job.Kind).Inc()
	if job.AttemptedAt != nil && !job.ScheduledAt.IsZero() {
		if wait := job.AttemptedAt.Sub(job.ScheduledAt); wait >= 0 {
			JobQueueWait.WithLabelValues(job.Kind).Observe(wait.Seconds())
		}
	}
	return nil
}

func (h *JobHook) WorkEnd(ctx context.Context, job *rivertype.JobRow, err error) error {
	JobsRunning.WithLabelValues(job.Kind).Dec()
	if job.AttemptedAt != nil {
		JobRunDuration.WithLabelValues(job.Kind).Observe(h.now().Sub(*job.AttemptedAt).Seconds())
	}
	JobOutcomes.WithLabelValues(job.Kind, jobOutcome(job, err)).Inc()
	return nil
}

func jobOutcome(job *rivertype.JobRow, err error) string {
	switch {
	case err == nil:
		return "success"
	case job.Attempt < job.MaxAttempts:
		return "retry"
	default:
		return "discarded"
	}
}
