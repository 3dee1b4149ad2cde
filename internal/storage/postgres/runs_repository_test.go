package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunRepository_StartFinishRecent(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t)
	repo := NewRunRepository(pool)

	first, err := repo.StartRun(ctx, "bluenote", 5)
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(ctx, first, 4, 1, 0))

	second, err := repo.StartRun(ctx, "quattro", 2)
	require.NoError(t, err)

	all, err := repo.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second, all[0].ID)
	require.Nil(t, all[0].FinishedAt)

	bluenote, err := repo.Recent(ctx, "bluenote", 10)
	require.NoError(t, err)
	require.Len(t, bluenote, 1)
	require.Equal(t, 5, bluenote[0].Received)
	require.Equal(t, 4, bluenote[0].Processed)
	require.Equal(t, 1, bluenote[0].Skipped)
	require.NotNil(t, bluenote[0].FinishedAt)
}

func TestRunRepository_PruneRuns(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t)
	repo := NewRunRepository(pool)

	old, err := repo.StartRun(ctx, "bluenote", 1)
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(ctx, old, 1, 0, 0))
	_, err = pool.Exec(ctx, `UPDATE ingestion_runs SET started_at = now() - interval '60 days' WHERE id = $1`, old)
	require.NoError(t, err)

	_, err = repo.StartRun(ctx, "bluenote", 1)
	require.NoError(t, err)

	removed, err := repo.PruneRuns(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	left, err := repo.Recent(ctx, "bluenote", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.NotEqual(t, old, left[0].ID)
}

func TestRepository_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t)
	repo, err := NewRepository(pool)
	require.NoError(t, err)

	sentinel := errTest("abort")
	err = repo.WithTx(ctx, func(ctx context.Context, tx *Repository) error {
		if _, err := tx.Runs().StartRun(ctx, "rolled-back", 1); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	runs, err := repo.Runs().Recent(ctx, "rolled-back", 10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRepository_NestedWithTxSharesTransaction(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t)
	repo, err := NewRepository(pool)
	require.NoError(t, err)

	sentinel := errTest("outer abort")
	err = repo.WithTx(ctx, func(ctx context.Context, outer *Repository) error {
		inner := outer.WithTx(ctx, func(ctx context.Context, tx *Repository) error {
			_, err := tx.Runs().StartRun(ctx, "nested", 2)
			return err
		})
		require.NoError(t, inner)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	runs, err := repo.Runs().Recent(ctx, "nested", 10)
	require.NoError(t, err)
	require.Empty(t, runs, "inner work belongs to the rolled back outer transaction")
}

func TestMigrationVersion(t *testing.T) {
	pool, dbURL := setupPostgres(t)
	version, dirty, err := MigrationVersion(dbURL, "")
	require.NoError(t, err)
	require.False(t, dirty)
	embedded, err := EmbeddedSchemaVersion()
	require.NoError(t, err)
	require.Equal(t, embedded, version)

	repo, err := NewRepository(pool)
	require.NoError(t, err)
	state, dirty, err := repo.MigrationState(context.Background())
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, int64(1), state)
}

type errTest string

func (e errTest) Error() string { return string(e) }
