package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/domain/ids"
)

type UpsertResult struct {
	Event         *Event
	Created       bool
	Refreshed     bool
	Schedules     int
	Prices        int
	PricesDropped int
	Links         int
	SkippedLinks  int
}

// Engine deduplicates and persists canonical events plus their schedules,
// prices and links.
type Engine struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(repo Repository, logger zerolog.Logger) *Engine {
	return &Engine{repo: repo, logger: logger, now: time.Now}
}

// Upsert resolves the event identity by (title, date_start, venue_id),
// inserting when absent and refreshing non-empty descriptive fields when a
// duplicate exists. Child rows are upserted on every call.
func (e *Engine) Upsert(ctx context.Context, c Canonical, venueID *int64) (UpsertResult, error) {
	if e == nil || e.repo == nil {
		return UpsertResult{}, fmt.Errorf("upsert: repository not configured")
	}
	if err := c.Validate(); err != nil {
		return UpsertResult{}, err
	}

	dateStart := DateOf(c.DateStart)
	dateEnd := DateOf(c.DateEnd)
	logger := e.logger.With().Str("site", c.Site).Str("dedup_key", DedupKey(c.Title, dateStart, venueID)).Logger()

	result := UpsertResult{}
	existing, err := e.repo.FindByKey(ctx, c.Title, dateStart, venueID)
	switch {
	case err == nil:
		result.Event = existing
		refresh := EventRefreshParams{
			Organization: c.Organization,
			Description:  c.Description,
			DateEnd:      dateEnd,
			Address:      c.Address,
			ExternalID:   c.ExternalID,
		}
		if needsRefresh(existing, refresh) {
			if err := e.repo.Refresh(ctx, existing.ID, refresh); err != nil {
				return UpsertResult{}, e.conflict("refresh event", c, venueID, err)
			}
			result.Refreshed = true
		}
	case errors.Is(err, ErrNotFound):
		ulid, err := ids.NewULID()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("generate ulid: %w", err)
		}
		created, err := e.repo.Create(ctx, EventCreateParams{
			ULID:         ulid,
			Site:         c.Site,
			Title:        c.Title,
			Organization: c.Organization,
			Description:  c.Description,
			DateStart:    dateStart,
			DateEnd:      dateEnd,
			Address:      c.Address,
			ExternalID:   c.ExternalID,
			VenueID:      venueID,
		})
		if err != nil {
			return UpsertResult{}, e.conflict("insert event", c, venueID, err)
		}
		result.Event = created
		result.Created = true
	default:
		return UpsertResult{}, fmt.Errorf("find event: %w", err)
	}

	eventID := result.Event.ID
	now := e.now()
	for _, s := range c.Schedules {
		s.Date = DateOf(s.Date)
		if strings.TrimSpace(s.Status) == "" {
			s.Status = ScheduleStatus(s.Date, now)
		}
		if err := e.repo.UpsertSchedule(ctx, eventID, s); err != nil {
			return result, e.conflict("upsert schedule", c, venueID, err)
		}
		result.Schedules++
	}

	for _, raw := range c.Prices {
		p, ok := NormalizePrice(raw)
		if !ok {
			result.PricesDropped++
			continue
		}
		if err := e.repo.UpsertPrice(ctx, eventID, p); err != nil {
			return result, e.conflict("upsert price", c, venueID, err)
		}
		result.Prices++
	}

	for _, l := range c.Links {
		l.URL = strings.TrimSpace(l.URL)
		if l.URL == "" {
			result.SkippedLinks++
			continue
		}
		if strings.TrimSpace(l.Type) == "" {
			l.Type = DefaultLinkType
		}
		if err := e.repo.UpsertLink(ctx, eventID, l); err != nil {
			return result, e.conflict("upsert link", c, venueID, err)
		}
		result.Links++
	}

	logger.Debug().
		Int64("event_id", eventID).
		Bool("created", result.Created).
		Bool("refreshed", result.Refreshed).
		Int("schedules", result.Schedules).
		Int("prices", result.Prices).
		Int("prices_dropped", result.PricesDropped).
		Int("links", result.Links).
		Msg("event upserted")

	return result, nil
}

// AttachImage records the local image reference of an event.
func (e *Engine) AttachImage(ctx context.Context, eventID int64, image Image) error {
	if err := e.repo.AttachImage(ctx, eventID, image); err != nil {
		return fmt.Errorf("attach image: %w", err)
	}
	return nil
}

func (e *Engine) conflict(op string, c Canonical, venueID *int64, err error) error {
	if !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	venue := ""
	if venueID != nil {
		venue = strconv.FormatInt(*venueID, 10)
	}
	return &PersistenceConflictError{
		Op: op,
		Fields: map[string]string{
			"title":      c.Title,
			"date_start": DateOf(c.DateStart).Format(time.DateOnly),
			"date_end":   DateOf(c.DateEnd).Format(time.DateOnly),
			"venue_id":   venue,
			"site":       c.Site,
		},
		Err: err,
	}
}

func needsRefresh(current *Event, incoming EventRefreshParams) bool {
	changed := func(have, want string) bool {
		return want != "" && want != have
	}
	return changed(current.Organization, incoming.Organization) ||
		changed(current.Description, incoming.Description) ||
		changed(current.Address, incoming.Address) ||
		changed(current.ExternalID, incoming.ExternalID) ||
		(!incoming.DateEnd.IsZero() && !DateOf(current.DateEnd).Equal(incoming.DateEnd))
}
