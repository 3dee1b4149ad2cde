package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Togather-Foundation/catalog/internal/domain/venues"
	"github.com/Togather-Foundation/catalog/internal/metrics"
)

var _ venues.Repository = (*VenueRepository)(nil)

type VenueRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewVenueRepository(pool *pgxpool.Pool) *VenueRepository {
	return &VenueRepository{pool: pool}
}

func (r *VenueRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// Upsert finds the venue by normalized name or creates it. An existing row
// is returned as first stored; later address details are ignored.
func (r *VenueRepository) Upsert(ctx context.Context, params venues.UpsertParams) (int64, error) {
	start := time.Now()
	var id int64
	err := r.queryer().QueryRow(ctx, `
INSERT INTO venues (name, normalized_name, address, city, postal_code, country)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (normalized_name) DO UPDATE SET normalized_name = EXCLUDED.normalized_name
RETURNING id
`, params.Name, params.NormalizedName, params.Address, params.City, params.PostalCode, params.Country).Scan(&id)
	metrics.ObserveQuery("upsert_venue", start, err)
	if err != nil {
		return 0, fmt.Errorf("upsert venue: %w", err)
	}
	return id, nil
}

func (r *VenueRepository) GetByID(ctx context.Context, id int64) (*venues.Venue, error) {
	var v venues.Venue
	err := r.queryer().QueryRow(ctx, `
SELECT id, name, normalized_name, address, city, postal_code, country, created_at
  FROM venues
 WHERE id = $1
`, id).Scan(&v.ID, &v.Name, &v.NormalizedName, &v.Address, &v.City, &v.PostalCode, &v.Country, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, venues.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get venue: %w", err)
	}
	return &v, nil
}
