package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/metrics"
)

var (
	_ events.Repository            = (*EventRepository)(nil)
	_ events.AssociationRepository = (*EventRepository)(nil)
)

type EventRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

const eventColumns = `e.id, e.ulid, e.site, e.title, e.organization, e.description,
       e.date_start, e.date_end, e.address, e.external_id, e.venue_id,
       COALESCE(v.name, ''), e.image_url, e.created_at, e.updated_at`

func scanEvent(row pgx.Row) (*events.Event, error) {
	var ev events.Event
	err := row.Scan(
		&ev.ID, &ev.ULID, &ev.Site, &ev.Title, &ev.Organization, &ev.Description,
		&ev.DateStart, &ev.DateEnd, &ev.Address, &ev.ExternalID, &ev.VenueID,
		&ev.VenueName, &ev.ImageURL, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *EventRepository) FindByKey(ctx context.Context, title string, dateStart time.Time, venueID *int64) (*events.Event, error) {
	start := time.Now()
	row := r.queryer().QueryRow(ctx, `
SELECT `+eventColumns+`
  FROM events e
  LEFT JOIN venues v ON v.id = e.venue_id
 WHERE e.title = $1
   AND e.date_start = $2
   AND e.venue_id IS NOT DISTINCT FROM $3
`, title, dateOnly(dateStart), venueID)
	ev, err := scanEvent(row)
	metrics.ObserveQuery("find_event", start, err)
	if err != nil {
		return nil, mapError("find event", err)
	}
	return ev, nil
}

func (r *EventRepository) Create(ctx context.Context, params events.EventCreateParams) (*events.Event, error) {
	start := time.Now()
	row := r.queryer().QueryRow(ctx, `
WITH e AS (
  INSERT INTO events (ulid, site, title, organization, description, date_start, date_end,
                      address, external_id, venue_id, image_url)
  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
  RETURNING *
)
SELECT `+eventColumns+`
  FROM e
  LEFT JOIN venues v ON v.id = e.venue_id
`,
		params.ULID, params.Site, params.Title, params.Organization, params.Description,
		dateOnly(params.DateStart), dateOnly(params.DateEnd), params.Address, params.ExternalID,
		params.VenueID, params.ImageURL,
	)
	ev, err := scanEvent(row)
	metrics.ObserveQuery("insert_event", start, err)
	if err != nil {
		return nil, mapError("insert event", err)
	}
	return ev, nil
}

// Refresh overwrites descriptive fields with non-empty incoming values.
func (r *EventRepository) Refresh(ctx context.Context, eventID int64, params events.EventRefreshParams) error {
	start := time.Now()
	var dateEnd any
	if !params.DateEnd.IsZero() {
		dateEnd = dateOnly(params.DateEnd)
	}
	tag, err := r.queryer().Exec(ctx, `
UPDATE events
   SET organization = COALESCE(NULLIF($2, ''), organization),
       description  = COALESCE(NULLIF($3, ''), description),
       date_end     = COALESCE($4::date, date_end),
       address      = COALESCE(NULLIF($5, ''), address),
       external_id  = COALESCE(NULLIF($6, ''), external_id),
       updated_at   = now()
 WHERE id = $1
`, eventID, params.Organization, params.Description, dateEnd, params.Address, params.ExternalID)
	metrics.ObserveQuery("refresh_event", start, err)
	if err != nil {
		return mapError("refresh event", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *EventRepository) UpsertSchedule(ctx context.Context, eventID int64, schedule events.Schedule) error {
	start := time.Now()
	_, err := r.queryer().Exec(ctx, `
INSERT INTO schedules (event_id, date, time_start, time_end, special_notes, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (event_id, date) DO UPDATE
   SET time_start    = EXCLUDED.time_start,
       time_end      = EXCLUDED.time_end,
       special_notes = EXCLUDED.special_notes,
       status        = EXCLUDED.status,
       updated_at    = now()
`, eventID, dateOnly(schedule.Date), schedule.TimeStart, schedule.TimeEnd, schedule.SpecialNotes, schedule.Status)
	metrics.ObserveQuery("upsert_schedule", start, err)
	return mapError("upsert schedule", err)
}

func (r *EventRepository) UpsertPrice(ctx context.Context, eventID int64, price events.Price) error {
	start := time.Now()
	_, err := r.queryer().Exec(ctx, `
INSERT INTO prices (event_id, price_tier, amount, currency, discount_info)
VALUES ($1, $2, $3::numeric, $4, $5)
ON CONFLICT (event_id, price_tier) DO UPDATE
   SET amount        = EXCLUDED.amount,
       currency      = EXCLUDED.currency,
       discount_info = EXCLUDED.discount_info,
       updated_at    = now()
`, eventID, price.Tier, price.Amount, price.Currency, price.DiscountInfo)
	metrics.ObserveQuery("upsert_price", start, err)
	return mapError("upsert price", err)
}

func (r *EventRepository) UpsertLink(ctx context.Context, eventID int64, link events.Link) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO event_links (event_id, url, link_type)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, url) DO UPDATE SET link_type = EXCLUDED.link_type
`, eventID, link.URL, link.Type)
	return mapError("upsert link", err)
}

// AttachImage points the event at image and records it in images. A real
// image replaces any placeholder rows of the event.
func (r *EventRepository) AttachImage(ctx context.Context, eventID int64, image events.Image) error {
	return inTx(ctx, r.pool, r.tx, func(q queryer) error {
		tag, err := q.Exec(ctx, `UPDATE events SET image_url = $2, updated_at = now() WHERE id = $1`, eventID, image.URL)
		if err != nil {
			return mapError("attach image", err)
		}
		if tag.RowsAffected() == 0 {
			return events.ErrNotFound
		}
		if !image.IsPlaceholder {
			if _, err := q.Exec(ctx, `DELETE FROM images WHERE event_id = $1 AND is_placeholder AND image_url <> $2`, eventID, image.URL); err != nil {
				return mapError("clear placeholder images", err)
			}
		}
		_, err = q.Exec(ctx, `
INSERT INTO images (event_id, image_url, source_url, is_placeholder)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id, image_url) DO UPDATE
   SET source_url     = EXCLUDED.source_url,
       is_placeholder = EXCLUDED.is_placeholder
`, eventID, image.URL, image.SourceURL, image.IsPlaceholder)
		return mapError("insert image", err)
	})
}

// Images lists the image rows recorded for an event.
func (r *EventRepository) Images(ctx context.Context, eventID int64) ([]events.Image, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT image_url, source_url, is_placeholder
  FROM images
 WHERE event_id = $1
 ORDER BY id
`, eventID)
	if err != nil {
		return nil, mapError("list images", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Image, error) {
		var img events.Image
		err := row.Scan(&img.URL, &img.SourceURL, &img.IsPlaceholder)
		return img, err
	})
}

const listFilter = `
  FROM events e
  LEFT JOIN venues v ON v.id = e.venue_id
 WHERE ($1 = '' OR e.site = $1)
   AND ($2::date IS NULL OR e.date_end >= $2::date)
   AND ($3::date IS NULL OR e.date_start <= $3::date)
   AND ($4 = '' OR EXISTS (
         SELECT 1 FROM event_categories ec JOIN categories c ON c.id = ec.category_id
          WHERE ec.event_id = e.id AND c.name = $4))
   AND ($5 = '' OR EXISTS (
         SELECT 1 FROM event_tags et JOIN tags t ON t.id = et.tag_id
          WHERE et.event_id = e.id AND t.name = $5))
   AND ($6::bigint IS NULL OR e.venue_id = $6::bigint)`

func (r *EventRepository) List(ctx context.Context, filters events.Filters, pagination events.Pagination) (events.ListResult, error) {
	args := []any{
		strings.TrimSpace(filters.Site),
		optionalDate(filters.From),
		optionalDate(filters.To),
		strings.TrimSpace(filters.Category),
		strings.TrimSpace(filters.Tag),
		filters.VenueID,
	}
	q := r.queryer()

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*)`+listFilter, args...).Scan(&total); err != nil {
		return events.ListResult{}, mapError("count events", err)
	}

	var limit any
	if pagination.Limit > 0 {
		limit = pagination.Limit
	}
	rows, err := q.Query(ctx, `SELECT `+eventColumns+listFilter+`
 ORDER BY e.date_start ASC, e.id ASC
 LIMIT $7 OFFSET $8`, append(args, limit, max(pagination.Offset, 0))...)
	if err != nil {
		return events.ListResult{}, mapError("list events", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Event, error) {
		ev, err := scanEvent(row)
		if err != nil {
			return events.Event{}, err
		}
		return *ev, nil
	})
	if err != nil {
		return events.ListResult{}, mapError("list events", err)
	}
	return events.ListResult{Events: items, Total: total}, nil
}

func (r *EventRepository) GetByULID(ctx context.Context, ulid string) (*events.EventDetail, error) {
	q := r.queryer()
	ev, err := scanEvent(q.QueryRow(ctx, `
SELECT `+eventColumns+`
  FROM events e
  LEFT JOIN venues v ON v.id = e.venue_id
 WHERE e.ulid = $1
`, ulid))
	if err != nil {
		return nil, mapError("get event", err)
	}
	detail := &events.EventDetail{Event: *ev}

	rows, err := q.Query(ctx, `
SELECT date, time_start, time_end, special_notes, status
  FROM schedules WHERE event_id = $1 ORDER BY date`, ev.ID)
	if err != nil {
		return nil, mapError("get schedules", err)
	}
	detail.Schedules, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Schedule, error) {
		var s events.Schedule
		err := row.Scan(&s.Date, &s.TimeStart, &s.TimeEnd, &s.SpecialNotes, &s.Status)
		return s, err
	})
	if err != nil {
		return nil, mapError("get schedules", err)
	}

	rows, err = q.Query(ctx, `
SELECT price_tier, trim_scale(amount)::text, currency, discount_info
  FROM prices WHERE event_id = $1 ORDER BY price_tier`, ev.ID)
	if err != nil {
		return nil, mapError("get prices", err)
	}
	detail.Prices, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Price, error) {
		var p events.Price
		err := row.Scan(&p.Tier, &p.Amount, &p.Currency, &p.DiscountInfo)
		return p, err
	})
	if err != nil {
		return nil, mapError("get prices", err)
	}

	rows, err = q.Query(ctx, `SELECT url, link_type FROM event_links WHERE event_id = $1 ORDER BY id`, ev.ID)
	if err != nil {
		return nil, mapError("get links", err)
	}
	detail.Links, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Link, error) {
		var l events.Link
		err := row.Scan(&l.URL, &l.Type)
		return l, err
	})
	if err != nil {
		return nil, mapError("get links", err)
	}

	if detail.Categories, err = r.names(ctx, `
SELECT c.name FROM event_categories ec JOIN categories c ON c.id = ec.category_id
 WHERE ec.event_id = $1 ORDER BY c.name`, ev.ID); err != nil {
		return nil, err
	}
	if detail.Tags, err = r.names(ctx, `
SELECT t.name FROM event_tags et JOIN tags t ON t.id = et.tag_id
 WHERE et.event_id = $1 ORDER BY t.name`, ev.ID); err != nil {
		return nil, err
	}
	return detail, nil
}

func (r *EventRepository) names(ctx context.Context, sql string, eventID int64) ([]string, error) {
	rows, err := r.queryer().Query(ctx, sql, eventID)
	if err != nil {
		return nil, mapError("get names", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("get names", err)
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return events.DateOf(t)
}

func optionalDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dateOnly(*t)
}
