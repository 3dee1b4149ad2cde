package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sqlstateUndefinedTable = "42P01"

// Repository hands out the catalog stores. Stores obtained inside WithTx
// share its transaction; all others run on the pool.
type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, errors.New("postgres repository: nil pool")
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Events() *EventRepository { return &EventRepository{pool: r.pool, tx: r.tx} }
func (r *Repository) Venues() *VenueRepository { return &VenueRepository{pool: r.pool, tx: r.tx} }
func (r *Repository) Runs() *RunRepository { return &RunRepository{pool: r.pool, tx: r.tx} }

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn with a Repository bound to one transaction, committed when
// fn returns nil. Inside an outer WithTx the outer transaction is reused.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, *Repository) error) error {
	return runTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{pool: r.pool, tx: tx})
	})
}

// MigrationState reads the newest golang-migrate bookkeeping row.
func (r *Repository) MigrationState(ctx context.Context) (int64, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := r.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return version, dirty, nil
	case errors.As(err, &pgErr) && pgErr.Code == sqlstateUndefinedTable:
		return 0, false, errors.New("schema_migrations table missing; database was never migrated")
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("query migration state: %w", err)
	}
}

// inTx is runTx for store methods that only need to issue statements.
func inTx(ctx context.Context, pool *pgxpool.Pool, outer pgx.Tx, fn func(queryer) error) error {
	return runTx(ctx, pool, outer, func(tx pgx.Tx) error { return fn(tx) })
}

// runTx calls fn on outer when set. Otherwise it opens a transaction, commits
// it on success and rolls it back on error, reporting both failures.
func runTx(ctx context.Context, pool *pgxpool.Pool, outer pgx.Tx, fn func(pgx.Tx) error) error {
	if outer != nil {
		return fn(outer)
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
