// Package eventstest provides an in-memory event store for tests.
package eventstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

var (
	_ events.Repository            = (*MemoryRepository)(nil)
	_ events.AssociationRepository = (*MemoryRepository)(nil)
)

type storedEvent struct {
	event      events.Event
	schedules  map[string]events.Schedule
	prices     map[string]events.Price
	links      map[string]events.Link
	images     map[string]events.Image
	categories map[int64]struct{}
	tags       map[int64]struct{}
}

// MemoryRepository mirrors the natural keys and conflict behavior of the
// postgres store.
type MemoryRepository struct {
	mu sync.Mutex

	nextID     int64
	events     map[int64]*storedEvent
	byKey      map[string]int64
	categories map[string]int64
	tags       map[string]int64

	// Behavior controls
	FailCreate       error
	FailUpsertPrice  error
	FailAttachImage  error
	FailReplaceTags  error
	ConflictOnCreate bool
	CreateCalls      int
	AttachImageCalls int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events:     make(map[int64]*storedEvent),
		byKey:      make(map[string]int64),
		categories: make(map[string]int64),
		tags:       make(map[string]int64),
	}
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) FindByKey(_ context.Context, title string, dateStart time.Time, venueID *int64) (*events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[events.DedupKey(title, dateStart, venueID)]
	if !ok {
		return nil, events.ErrNotFound
	}
	ev := m.events[id].event
	return &ev, nil
}

func (m *MemoryRepository) Create(_ context.Context, params events.EventCreateParams) (*events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	key := events.DedupKey(params.Title, params.DateStart, params.VenueID)
	if _, exists := m.byKey[key]; exists || m.ConflictOnCreate {
		return nil, fmt.Errorf("%w: events_title_date_start_venue_id_key", events.ErrConflict)
	}
	if params.DateEnd.Before(params.DateStart) {
		return nil, fmt.Errorf("%w: events_date_order_check", events.ErrConflict)
	}
	now := time.Now()
	id := m.id()
	m.events[id] = &storedEvent{
		event: events.Event{
			ID:           id,
			ULID:         params.ULID,
			Site:         params.Site,
			Title:        params.Title,
			Organization: params.Organization,
			Description:  params.Description,
			DateStart:    params.DateStart,
			DateEnd:      params.DateEnd,
			Address:      params.Address,
			ExternalID:   params.ExternalID,
			VenueID:      params.VenueID,
			ImageURL:     params.ImageURL,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		schedules:  make(map[string]events.Schedule),
		prices:     make(map[string]events.Price),
		links:      make(map[string]events.Link),
		images:     make(map[string]events.Image),
		categories: make(map[int64]struct{}),
		tags:       make(map[int64]struct{}),
	}
	m.byKey[key] = id
	ev := m.events[id].event
	return &ev, nil
}

func (m *MemoryRepository) Refresh(_ context.Context, eventID int64, params events.EventRefreshParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&stored.event.Organization, params.Organization)
	set(&stored.event.Description, params.Description)
	set(&stored.event.Address, params.Address)
	set(&stored.event.ExternalID, params.ExternalID)
	if !params.DateEnd.IsZero() {
		stored.event.DateEnd = params.DateEnd
	}
	stored.event.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) UpsertSchedule(_ context.Context, eventID int64, schedule events.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	stored.schedules[schedule.Date.Format(time.DateOnly)] = schedule
	return nil
}

func (m *MemoryRepository) UpsertPrice(_ context.Context, eventID int64, price events.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsertPrice != nil {
		return m.FailUpsertPrice
	}
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	stored.prices[price.Tier] = price
	return nil
}

func (m *MemoryRepository) UpsertLink(_ context.Context, eventID int64, link events.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	stored.links[link.URL] = link
	return nil
}

func (m *MemoryRepository) AttachImage(_ context.Context, eventID int64, image events.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AttachImageCalls++
	if m.FailAttachImage != nil {
		return m.FailAttachImage
	}
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	if !image.IsPlaceholder {
		for url, img := range stored.images {
			if img.IsPlaceholder {
				delete(stored.images, url)
			}
		}
	}
	stored.images[image.URL] = image
	stored.event.ImageURL = image.URL
	return nil
}

func (m *MemoryRepository) List(_ context.Context, filters events.Filters, pagination events.Pagination) (events.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []events.Event
	for _, stored := range m.events {
		ev := stored.event
		if filters.Site != "" && ev.Site != filters.Site {
			continue
		}
		if filters.From != nil && ev.DateEnd.Before(*filters.From) {
			continue
		}
		if filters.To != nil && ev.DateStart.After(*filters.To) {
			continue
		}
		if filters.Category != "" && !m.hasName(stored.categories, m.categories, filters.Category) {
			continue
		}
		if filters.Tag != "" && !m.hasName(stored.tags, m.tags, filters.Tag) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DateStart.Equal(matched[j].DateStart) {
			return matched[i].DateStart.Before(matched[j].DateStart)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := min(pagination.Offset, total)
	end := total
	if pagination.Limit > 0 {
		end = min(start+pagination.Limit, total)
	}
	return events.ListResult{Events: matched[start:end], Total: total}, nil
}

func (m *MemoryRepository) hasName(linked map[int64]struct{}, lookup map[string]int64, name string) bool {
	id, ok := lookup[name]
	if !ok {
		return false
	}
	_, ok = linked[id]
	return ok
}

func (m *MemoryRepository) GetByULID(_ context.Context, ulid string) (*events.EventDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.events {
		if strings.EqualFold(stored.event.ULID, ulid) {
			return m.detail(stored), nil
		}
	}
	return nil, events.ErrNotFound
}

func (m *MemoryRepository) EnsureCategories(_ context.Context, names []string) ([]int64, error) {
	return m.ensure(m.categories, names), nil
}

func (m *MemoryRepository) EnsureTags(_ context.Context, names []string) ([]int64, error) {
	return m.ensure(m.tags, names), nil
}

func (m *MemoryRepository) ensure(lookup map[string]int64, names []string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := lookup[name]
		if !ok {
			id = m.id()
			lookup[name] = id
		}
		out = append(out, id)
	}
	return out
}

func (m *MemoryRepository) ReplaceCategories(_ context.Context, eventID int64, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	stored.categories = toSet(ids)
	return nil
}

func (m *MemoryRepository) ReplaceTags(_ context.Context, eventID int64, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplaceTags != nil {
		return m.FailReplaceTags
	}
	stored, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	stored.tags = toSet(ids)
	return nil
}

// Snapshot helpers for assertions.

func (m *MemoryRepository) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MemoryRepository) Detail(eventID int64) *events.EventDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return nil
	}
	return m.detail(stored)
}

func (m *MemoryRepository) Images(eventID int64) []events.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[eventID]
	if !ok {
		return nil
	}
	out := make([]events.Image, 0, len(stored.images))
	for _, img := range stored.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (m *MemoryRepository) detail(stored *storedEvent) *events.EventDetail {
	d := &events.EventDetail{Event: stored.event}
	for _, s := range stored.schedules {
		d.Schedules = append(d.Schedules, s)
	}
	sort.Slice(d.Schedules, func(i, j int) bool { return d.Schedules[i].Date.Before(d.Schedules[j].Date) })
	for _, p := range stored.prices {
		d.Prices = append(d.Prices, p)
	}
	sort.Slice(d.Prices, func(i, j int) bool { return d.Prices[i].Tier < d.Prices[j].Tier })
	for _, l := range stored.links {
		d.Links = append(d.Links, l)
	}
	sort.Slice(d.Links, func(i, j int) bool { return d.Links[i].URL < d.Links[j].URL })
	d.Categories = names(stored.categories, m.categories)
	d.Tags = names(stored.tags, m.tags)
	return d
}

func names(linked map[int64]struct{}, lookup map[string]int64) []string {
	var out []string
	for name, id := range lookup {
		if _, ok := linked[id]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
