package models

import (
	"time"
)

const EventDateLayout = "2006-01-02"

// EventSnapshot is the event data copied onto a ticket at purchase time.
type EventSnapshot struct {
	Title string `json:"event_title"`
	Date  string `json:"event_date"` // YYYY-MM-DD, may be empty
	Time  string `json:"event_time"`
	Venue string `json:"event_venue"`
	Tier  string `json:"tier_name"`
}

// Day parses Date in loc. ok is false when the ticket carries no usable date.
func (e EventSnapshot) Day(loc *time.Location) (day time.Time, ok bool) {
	if e.Date == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(EventDateLayout, e.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
