package events

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("event not found")

// ErrConflict is wrapped by repositories when a write violates a unique or
// check constraint.
var ErrConflict = errors.New("event conflict")

// Event is a persisted catalog entry.
type Event struct {
	ID           int64
	ULID         string
	Site         string
	Title        string
	Organization string
	Description  string
	DateStart    time.Time
	DateEnd      time.Time
	Address      string
	ExternalID   string
	VenueID      *int64
	VenueName    string
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventDetail is an Event with its child rows and associations loaded.
type EventDetail struct {
	Event
	Schedules  []Schedule
	Prices     []Price
	Links      []Link
	Categories []string
	Tags       []string
}

type EventCreateParams struct {
	ULID         string
	Site         string
	Title        string
	Organization string
	Description  string
	DateStart    time.Time
	DateEnd      time.Time
	Address      string
	ExternalID   string
	VenueID      *int64
	ImageURL     string
}

// EventRefreshParams carries the mutable descriptive fields of a duplicate
// match. Empty strings leave the stored value untouched.
type EventRefreshParams struct {
	Organization string
	Description  string
	DateEnd      time.Time
	Address      string
	ExternalID   string
}

type Image struct {
	URL           string
	SourceURL     string
	IsPlaceholder bool
}

type Filters struct {
	Site     string
	From     *time.Time
	To       *time.Time
	Category string
	Tag      string
	VenueID  *int64
}

type Pagination struct {
	Limit  int
	Offset int
}

type ListResult struct {
	Events []Event
	Total  int
}

type Repository interface {
	FindByKey(ctx context.Context, title string, dateStart time.Time, venueID *int64) (*Event, error)
	Create(ctx context.Context, params EventCreateParams) (*Event, error)
	Refresh(ctx context.Context, eventID int64, params EventRefreshParams) error
	UpsertSchedule(ctx context.Context, eventID int64, schedule Schedule) error
	UpsertPrice(ctx context.Context, eventID int64, price Price) error
	UpsertLink(ctx context.Context, eventID int64, link Link) error
	AttachImage(ctx context.Context, eventID int64, image Image) error
	List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error)
	GetByULID(ctx context.Context, ulid string) (*EventDetail, error)
}

// AssociationRepository persists the category and tag axes of an event.
type AssociationRepository interface {
	EnsureCategories(ctx context.Context, names []string) ([]int64, error)
	EnsureTags(ctx context.Context, names []string) ([]int64, error)
	// ReplaceCategories makes ids the exact category set of eventID in one transaction.
	ReplaceCategories(ctx context.Context, eventID int64, ids []int64) error
	ReplaceTags(ctx context.Context, eventID int64, ids []int64) error
}
