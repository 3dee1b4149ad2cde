package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Togather-Foundation/catalog/internal/ingest"
)

var _ ingest.RunRecorder = (*RunRepository)(nil)

// RunRepository stores the ingestion_runs audit trail.
type RunRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *RunRepository) StartRun(ctx context.Context, site string, received int) (int64, error) {
	var id int64
	err := r.queryer().QueryRow(ctx,
		`INSERT INTO ingestion_runs (site, received) VALUES ($1, $2) RETURNING id`,
		site, received,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start ingestion run: %w", err)
	}
	return id, nil
}

func (r *RunRepository) FinishRun(ctx context.Context, id int64, processed, skipped, failed int) error {
	_, err := r.queryer().Exec(ctx, `
UPDATE ingestion_runs
   SET processed = $2, skipped = $3, failed = $4, finished_at = now()
 WHERE id = $1
`, id, processed, skipped, failed)
	if err != nil {
		return fmt.Errorf("finish ingestion run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first. An empty site matches all.
func (r *RunRepository) Recent(ctx context.Context, site string, limit int) ([]ingest.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.queryer().Query(ctx, `
SELECT id, site, received, processed, skipped, failed, started_at, finished_at
  FROM ingestion_runs
 WHERE ($1 = '' OR site = $1)
 ORDER BY started_at DESC, id DESC
 LIMIT $2
`, site, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ingest.Run, error) {
		var run ingest.Run
		err := row.Scan(&run.ID, &run.Site, &run.Received, &run.Processed, &run.Skipped, &run.Failed, &run.StartedAt, &run.FinishedAt)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("list ingestion runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes finished runs that started before cutoff.
func (r *RunRepository) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.queryer().Exec(ctx,
		`DELETE FROM ingestion_runs WHERE started_at < $1 AND finished_at IS NOT NULL`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune ingestion runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
