package events

import (
	"time"
)

const (
	DefaultPriceTier = "General"
	DefaultCurrency  = "JPY"
	DefaultLinkType  = "primary"

	ScheduleUpcoming = "upcoming"
	ScheduleEnded    = "ended"
)

// Canonical is the normalized, validated record consumed by persistence.
// Dates are calendar dates held as UTC midnight.
type Canonical struct {
	Site         string
	Title        string
	Organization string
	Description  string
	DateStart    time.Time
	DateEnd      time.Time
	Address      string
	ExternalID   string
	Venue        VenueRef
	ImageURL     string
	PageURL      string
	Schedules    []Schedule
	Prices       []Price
	Links        []Link
	Categories   []string
	Tags         []string
}

type VenueRef struct {
	Name       string
	Address    string
	City       string
	PostalCode string
	Country    string
}

type Schedule struct {
	Date         time.Time
	TimeStart    string
	TimeEnd      *string
	SpecialNotes string
	Status       string
}

// Price amounts are plain decimal text; money never passes through a float.
type Price struct {
	Tier         string
	Amount       string
	Currency     string
	DiscountInfo string
}

type Link struct {
	URL  string
	Type string
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ScheduleStatus derives upcoming/ended relative to now when the source gave none.
func ScheduleStatus(date, now time.Time) string {
	if DateOf(date).Before(DateOf(now)) {
		return ScheduleEnded
	}
	return ScheduleUpcoming
}
