package events

import (
	"fmt"
	"strings"
)

// Validate is the gate every canonical record passes before persistence:
// a non-empty title and a start date no later than the end date.
func (c Canonical) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Title) == "" {
		verr.Add("title", "required")
	}
	if c.DateStart.IsZero() {
		verr.Add("date_start", "required")
	}
	if c.DateEnd.IsZero() {
		verr.Add("date_end", "required")
	}
	if !c.DateStart.IsZero() && !c.DateEnd.IsZero() && c.DateEnd.Before(c.DateStart) {
		verr.Add("date_end", "must be on or after date_start")
	}
	for i, s := range c.Schedules {
		if s.Date.IsZero() {
			verr.Add(fmt.Sprintf("schedule[%d].date", i), "required")
		}
	}
	return verr.OrNil()
}
