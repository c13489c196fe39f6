package model

import "time"

// Schedule is a single stored calendar event. The scheduling core only reads
// schedules; creation and editing belong to whatever owns the store.
type Schedule struct {
	// ID is stable once assigned. Zero means "not yet persisted".
	ID int64

	// SourceID names the store the schedule came from ("file", or an ICS
	// source id). Informational only.
	SourceID string

	Title       string
	Description string

	// Start / End are absolute instants. End >= Start is expected but is not
	// enforced here.
	Start time.Time
	End   time.Time

	// AllDay changes how Reminder offsets are interpreted. All-day events
	// start at local midnight of their day.
	AllDay bool

	Reminder ReminderPolicy

	CreatedAt time.Time
}

// Persisted reports whether the schedule has an id assigned by its store.
func (s Schedule) Persisted() bool {
	return s.ID != 0
}

// Equal reports whether two schedules carry the same content. Used by the
// store diff to decide whether a schedule was edited.
func (s Schedule) Equal(o Schedule) bool {
	return s.ID == o.ID &&
		s.SourceID == o.SourceID &&
		s.Title == o.Title &&
		s.Description == o.Description &&
		s.Start.Equal(o.Start) &&
		s.End.Equal(o.End) &&
		s.AllDay == o.AllDay &&
		s.Reminder == o.Reminder
}
