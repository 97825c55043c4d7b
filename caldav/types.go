// Package caldav holds the domain model shared by the discovery, codec,
// recurrence and sync packages: server profiles, calendars, events and the
// occurrences derived from them.
package caldav

import "time"

// ServerType identifies a known CalDAV server flavour. The flavour only
// affects the path template used to locate the calendar-home collection,
// never the protocol verbs.
type ServerType string

const (
	ServerNextcloud ServerType = "nextcloud"
	ServerBaikal    ServerType = "baikal"
	ServerRadicale  ServerType = "radicale"
	ServerGeneric   ServerType = "generic"
)

// ServerProfile is the resolved entry point for a CalDAV account. It is
// immutable once resolved for a session.
type ServerProfile struct {
	BaseURL      string
	Type         ServerType
	CalendarRoot string // absolute URL of the calendar-home collection
}

// Credentials carry the per-call authentication secret. The core never
// persists them; ownership stays with the session boundary.
type Credentials struct {
	Username string
	Secret   string // password or app token
}

// Calendar is one collection discovered under a profile's calendar root.
// URL is the identity key.
type Calendar struct {
	Name     string
	URL      string
	Color    string
	Visible  bool
	ReadOnly bool
	CTag     string
}

// Exception marks one occurrence of a recurring event as cancelled or
// overridden. OriginalStart is the rule-derived start the exception applies
// to, compared after UTC normalization.
type Exception struct {
	OriginalStart time.Time
	Cancelled     bool
	Override      *Event // set when the occurrence is modified, nil when cancelled
}

// Event is the master calendar object. UID plus CalendarURL uniquely
// identifies it; individual occurrences are derived, never stored.
type Event struct {
	UID         string
	CalendarURL string
	// Href is the absolute URL of the stored .ics object, set once the
	// event has been fetched from or written to the server.
	Href    string
	Summary string
	Description string
	Location    string

	// Start and End are normalized to UTC for timezone-qualified values.
	// Floating times carry the viewer's local zone. All-day events are
	// date-only and end-exclusive: a one-day event has End = Start + 24h.
	Start      time.Time
	End        time.Time
	AllDay     bool
	TimezoneID string // original TZID, kept for re-localization at the boundary

	// RecurrenceRule is the RRULE value without the "RRULE:" prefix,
	// empty for non-recurring events.
	RecurrenceRule string
	Exceptions     []Exception

	ETag string
}

// Recurring reports whether the event carries a recurrence rule.
func (e *Event) Recurring() bool {
	return e.RecurrenceRule != ""
}

// Duration returns the span of a single occurrence.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// ExceptionFor returns the exception matching the given rule-derived start,
// if any. Matching is exact timestamp equality after UTC normalization; a
// date-only exception (midnight UTC) matches any occurrence on that date.
func (e *Event) ExceptionFor(start time.Time) *Exception {
	for i := range e.Exceptions {
		if ExceptionMatches(e.Exceptions[i].OriginalStart, start) {
			return &e.Exceptions[i]
		}
	}
	return nil
}

// ExceptionMatches reports whether an exception timestamp refers to the
// occurrence starting at t.
func ExceptionMatches(exception, t time.Time) bool {
	if exception.Equal(t) {
		return true
	}
	// Date-only exceptions are stored as midnight UTC and match any
	// occurrence falling on that UTC date.
	if exception.Location() == time.UTC &&
		exception.Hour() == 0 && exception.Minute() == 0 && exception.Second() == 0 {
		u := t.UTC()
		midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.Equal(exception)
	}
	return false
}

// Occurrence is the projection of an Event onto one point in time. It is
// computed on read and never persisted.
type Occurrence struct {
	EventUID    string
	EventHref   string
	CalendarURL string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	IsException bool
}

// Preferences are the per-user settings the core consumes through the
// session boundary.
type Preferences struct {
	SelectedCalendarURLs []string
	ColorOverrides       map[string]string // calendar URL -> color
	WeekStartDay         time.Weekday
}
