package events

import (
	"strconv"
	"strings"
	"time"
)

// DedupKey renders the (title, date_start, venue_id) identity of an event.
// Two records with the same key are the same logical event.
func DedupKey(title string, dateStart time.Time, venueID *int64) string {
	venue := "-"
	if venueID != nil {
		venue = strconv.FormatInt(*venueID, 10)
	}
	return strings.Join([]string{title, DateOf(dateStart).Format(time.DateOnly), venue}, "|")
}
