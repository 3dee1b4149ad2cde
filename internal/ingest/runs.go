package ingest

import (
	"context"
	"time"
)

// Run is the audit row written for every batch.
type Run struct {
	ID         int64
	Site       string
	Received   int
	Processed  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRecorder persists batch audit rows.
type RunRecorder interface {
	StartRun(ctx context.Context, site string, received int) (int64, error)
	FinishRun(ctx context.Context, id int64, processed, skipped, failed int) error
}
