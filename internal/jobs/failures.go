package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/Togather-Foundation/catalog/internal/ingest"
)

// FailureHandler logs failed and panicking jobs. A batch ingestion job that
// gives up for good without having opened its own run is written to the run
// audit with every record failed, so lost batches still show up there.
type FailureHandler struct {
	Logger *slog.Logger
	Runs   ingest.RunRecorder
}

func NewFailureHandler(logger *slog.Logger, runs ingest.RunRecorder) *FailureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureHandler{Logger: logger, Runs: runs}
}

func (h *FailureHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	final := job.Attempt >= job.MaxAttempts
	level := slog.LevelWarn
	if final {
		level = slog.LevelError
	}
	h.Logger.Log(ctx, level, "job failed", failureAttrs(job, "error", err)...)
	var batchErr *batchError
	if final && !(errors.As(err, &batchErr) && batchErr.runID != 0) {
		h.recordLostBatch(ctx, job)
	}
	return nil
}

// HandlePanic always cancels the job. River would otherwise retry a worker
// that is likely to panic on the same arguments again.
func (h *FailureHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.Logger.Error("job panicked", failureAttrs(job, "error", fmt.Errorf("panic: %v", panicVal), "trace", trace)...)
	h.recordLostBatch(ctx, job)
	return &river.ErrorHandlerResult{SetCancelled: true}
}

func (h *FailureHandler) recordLostBatch(ctx context.Context, job *rivertype.JobRow) {
	if h.Runs == nil || job.Kind != JobKindBatchIngestion {
		return
	}
	site, count, ok := batchSummary(job)
	if !ok {
		return
	}
	id, err := h.Runs.StartRun(ctx, site, count)
	if err == nil {
		err = h.Runs.FinishRun(ctx, id, 0, 0, count)
	}
	if err != nil {
		h.Logger.Warn("recording lost batch", "job_id", job.ID, "site", site, "error", err)
	}
}

// batchSummary reads the site and record count of a batch job without
// decoding the records themselves.
func batchSummary(job *rivertype.JobRow) (site string, count int, ok bool) {
	var args struct {
		Site   string            `json:"site"`
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil {
		return "", 0, false
	}
	if args.Site == "" {
		args.Site = ingest.MultiSiteLabel
	}
	return args.Site, len(args.Events), true
}

func failureAttrs(job *rivertype.JobRow, extra ...any) []any {
	attrs := []any{"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "max_attempts", job.MaxAttempts}
	if job.Kind == JobKindBatchIngestion {
		if site, count, ok := batchSummary(job); ok {
			attrs = append(attrs, "site", site, "records", count)
		}
	}
	return append(attrs, extra...)
}
