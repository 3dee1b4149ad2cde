package postgres

import (
	"context"
	"fmt"
)

// axis names one association table pair. Values are fixed identifiers, never
// user input.
type axis struct {
	lookup     string
	link       string
	linkColumn string
}

var (
	categoryAxis = axis{lookup: "categories", link: "event_categories", linkColumn: "category_id"}
	tagAxis      = axis{lookup: "tags", link: "event_tags", linkColumn: "tag_id"}
)

func (r *EventRepository) EnsureCategories(ctx context.Context, names []string) ([]int64, error) {
	return r.ensure(ctx, categoryAxis, names)
}

func (r *EventRepository) EnsureTags(ctx context.Context, names []string) ([]int64, error) {
	return r.ensure(ctx, tagAxis, names)
}

// ensure finds or creates one lookup row per name, returning ids in input
// order. The no-op update makes RETURNING yield the existing row on conflict.
func (r *EventRepository) ensure(ctx context.Context, a axis, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	q := r.queryer()
	for _, name := range names {
		var id int64
		err := q.QueryRow(ctx, fmt.Sprintf(`
INSERT INTO %s (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, a.lookup), name).Scan(&id)
		if err != nil {
			return nil, mapError("ensure "+a.lookup, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *EventRepository) ReplaceCategories(ctx context.Context, eventID int64, ids []int64) error {
	return r.replace(ctx, categoryAxis, eventID, ids)
}

func (r *EventRepository) ReplaceTags(ctx context.Context, eventID int64, ids []int64) error {
	return r.replace(ctx, tagAxis, eventID, ids)
}

// replace makes ids the exact link set of eventID: stale links are deleted
// and missing ones inserted in a single transaction.
func (r *EventRepository) replace(ctx context.Context, a axis, eventID int64, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return inTx(ctx, r.pool, r.tx, func(q queryer) error {
		if _, err := q.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE event_id = $1 AND NOT (%s = ANY($2::bigint[]))`, a.link, a.linkColumn,
		), eventID, ids); err != nil {
			return mapError("delete "+a.link, err)
		}
		if _, err := q.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (event_id, %s)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, a.link, a.linkColumn), eventID, ids); err != nil {
			return mapError("insert "+a.link, err)
		}
		return nil
	})
}
