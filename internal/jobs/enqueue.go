package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/Togather-Foundation/catalog/internal/metrics"
	"github.com/Togather-Foundation/catalog/internal/normalize"
)

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer queues batches for background ingestion.
type Enqueuer struct {
	client Inserter
	policy *RetryPolicy
}

func NewEnqueuer(client Inserter, batchAttempts int) *Enqueuer {
	return &Enqueuer{client: client, policy: NewRetryPolicy(batchAttempts)}
}

// EnqueueBatch stores the batch as a batch_ingestion job.
func (e *Enqueuer) EnqueueBatch(ctx context.Context, site string, records []normalize.RawEvent) error {
	opts := e.policy.InsertOpts(JobKindBatchIngestion)
	res, err := e.client.Insert(ctx, BatchIngestionArgs{Site: site, Events: records}, &opts)
	if err != nil {
		return fmt.Errorf("enqueue batch for %s: %w", site, err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		return nil
	}
	metrics.IngestBatchesQueued.WithLabelValues(site).Inc()
	return nil
}
