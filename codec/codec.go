// Package codec translates between the iCalendar wire format and the
// internal event model. Decoding skips individual malformed VEVENTs instead
// of failing the whole object, so one broken event never hides a calendar.
package codec

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

const prodID = "-//FuzzyMistborn/caldav-frontend//NONSGML v1.0//EN"

const (
	dateTimeUTCFormat   = "20060102T150405Z"
	dateTimeLocalFormat = "20060102T150405"
	dateFormat          = "20060102"
)

// Decode parses a raw iCalendar object into events. Override components
// (RECURRENCE-ID) are folded into their master's exception set; EXDATEs
// become cancelled exceptions. VEVENTs that cannot be parsed are reported in
// the second return value (wrapping caldav.ErrMalformedObject) and skipped.
func Decode(raw []byte, calendarURL string) ([]caldav.Event, []error) {
	cal, err := ical.NewDecoder(bytes.NewReader(raw)).Decode()
	if err != nil {
		return nil, []error{fmt.Errorf("%w: %v", caldav.ErrMalformedObject, err)}
	}
	return decodeCalendar(cal, calendarURL)
}

func decodeCalendar(cal *ical.Calendar, calendarURL string) ([]caldav.Event, []error) {
	var (
		masters   []caldav.Event
		overrides []caldav.Exception
		skipped   []error
	)

	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		ev, recurrenceID, err := decodeComponent(child, calendarURL)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if recurrenceID != nil {
			overrides = append(overrides, caldav.Exception{
				OriginalStart: *recurrenceID,
				Override:      &ev,
			})
			continue
		}
		masters = append(masters, ev)
	}

	// Attach overrides to their master; an override without a master is a
	// standalone event as far as the viewer is concerned.
	for _, ov := range overrides {
		attached := false
		for i := range masters {
			if masters[i].UID == ov.Override.UID {
				masters[i].Exceptions = append(masters[i].Exceptions, ov)
				attached = true
				break
			}
		}
		if !attached {
			masters = append(masters, *ov.Override)
		}
	}

	return masters, skipped
}

// decodeComponent parses one VEVENT. The returned recurrenceID is non-nil
// for override components.
func decodeComponent(comp *ical.Component, calendarURL string) (caldav.Event, *time.Time, error) {
	ev := caldav.Event{CalendarURL: calendarURL}

	uidProp := comp.Props.Get(ical.PropUID)
	if uidProp == nil || uidProp.Value == "" {
		return ev, nil, fmt.Errorf("%w: VEVENT without UID", caldav.ErrMalformedObject)
	}
	ev.UID = uidProp.Value

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		ev.Location = p.Value
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return ev, nil, fmt.Errorf("%w: VEVENT %s has no DTSTART", caldav.ErrMalformedObject, ev.UID)
	}
	start, allDay, tzid, err := parseDateTimeProp(startProp)
	if err != nil {
		return ev, nil, fmt.Errorf("%w: VEVENT %s DTSTART: %v", caldav.ErrMalformedObject, ev.UID, err)
	}
	ev.Start = start
	ev.AllDay = allDay
	ev.TimezoneID = tzid

	end, err := decodeEnd(comp, start, allDay)
	if err != nil {
		return ev, nil, fmt.Errorf("%w: VEVENT %s: %v", caldav.ErrMalformedObject, ev.UID, err)
	}
	ev.End = end

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil && p.Value != "" {
		if err := validateRRule(p.Value); err != nil {
			return ev, nil, fmt.Errorf("%w: VEVENT %s RRULE %q: %v", caldav.ErrMalformedObject, ev.UID, p.Value, err)
		}
		ev.RecurrenceRule = p.Value
	}

	for _, exdate := range comp.Props.Values(ical.PropExceptionDates) {
		times, err := parseDateList(&exdate)
		if err != nil {
			return ev, nil, fmt.Errorf("%w: VEVENT %s EXDATE: %v", caldav.ErrMalformedObject, ev.UID, err)
		}
		for _, t := range times {
			ev.Exceptions = append(ev.Exceptions, caldav.Exception{OriginalStart: t, Cancelled: true})
		}
	}

	var recurrenceID *time.Time
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil && p.Value != "" {
		rid, _, _, err := parseDateTimeProp(p)
		if err != nil {
			return ev, nil, fmt.Errorf("%w: VEVENT %s RECURRENCE-ID: %v", caldav.ErrMalformedObject, ev.UID, err)
		}
		recurrenceID = &rid
	}

	return ev, recurrenceID, nil
}

func decodeEnd(comp *ical.Component, start time.Time, allDay bool) (time.Time, error) {
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, endAllDay, _, err := parseDateTimeProp(endProp)
		if err != nil {
			return time.Time{}, fmt.Errorf("DTEND: %v", err)
		}
		// A one-day all-day event is sometimes written with DTEND equal to
		// DTSTART; normalize to the end-exclusive form.
		if allDay && endAllDay && end.Equal(start) {
			end = start.AddDate(0, 0, 1)
		}
		return end, nil
	}

	if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
		dur, err := durProp.Duration()
		if err != nil {
			return time.Time{}, fmt.Errorf("DURATION: %v", err)
		}
		return start.Add(dur), nil
	}

	// RFC 5545 defaults: one day for date values, instantaneous otherwise.
	if allDay {
		return start.AddDate(0, 0, 1), nil
	}
	return start, nil
}

// parseDateTimeProp parses a DATE or DATE-TIME property. Date values become
// midnight UTC with allDay set. TZID-qualified values are normalized to UTC
// with the original zone kept; floating values are taken as viewer local time.
func parseDateTimeProp(prop *ical.Prop) (t time.Time, allDay bool, tzid string, err error) {
	value := strings.TrimSpace(prop.Value)

	if isDateValue(prop, value) {
		d, err := time.Parse(dateFormat, value)
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("invalid date %q", value)
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), true, "", nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err = time.Parse(dateTimeUTCFormat, value)
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("invalid UTC date-time %q", value)
		}
		return t, false, "", nil
	}

	if id := prop.Params.Get("TZID"); id != "" {
		loc, err := time.LoadLocation(id)
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("unknown timezone %q", id)
		}
		t, err = time.ParseInLocation(dateTimeLocalFormat, value, loc)
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("invalid date-time %q", value)
		}
		return t.UTC(), false, id, nil
	}

	// Floating time: the viewer's local zone.
	t, err = time.ParseInLocation(dateTimeLocalFormat, value, time.Local)
	if err != nil {
		return time.Time{}, false, "", fmt.Errorf("invalid date-time %q", value)
	}
	return t, false, "", nil
}

// validateRRule rejects recurrence syntax the expander cannot handle, so the
// event is reported at decode time instead of failing mid-expansion.
func validateRRule(value string) error {
	_, err := rrule.StrToRRule(value)
	return err
}

func isDateValue(prop *ical.Prop, value string) bool {
	if strings.EqualFold(prop.Params.Get("VALUE"), "DATE") {
		return true
	}
	return len(value) == 8 && !strings.Contains(value, "T")
}

// parseDateList parses a comma-separated EXDATE/RDATE value.
func parseDateList(prop *ical.Prop) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(prop.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		single := *prop
		single.Value = part
		t, _, _, err := parseDateTimeProp(&single)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Encode serializes an event (master plus its exception set) back to an
// iCalendar object.
func Encode(ev caldav.Event) ([]byte, error) {
	if ev.UID == "" {
		return nil, fmt.Errorf("%w: event has no UID", caldav.ErrValidation)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	master := encodeComponent(&ev, nil)
	cal.Children = append(cal.Children, master)

	// Modified occurrences get their own override components; keep a
	// stable output order for round-trip comparisons.
	sorted := append([]caldav.Exception(nil), ev.Exceptions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OriginalStart.Before(sorted[j].OriginalStart)
	})
	for i := range sorted {
		exc := &sorted[i]
		if exc.Cancelled || exc.Override == nil {
			continue
		}
		cal.Children = append(cal.Children, encodeComponent(exc.Override, &exc.OriginalStart))
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeComponent(ev *caldav.Event, recurrenceID *time.Time) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, ev.UID)
	setDateTimeProp(comp, ical.PropDateTimeStamp, time.Now().UTC(), false, "")
	setDateTimeProp(comp, ical.PropDateTimeStart, ev.Start, ev.AllDay, ev.TimezoneID)
	setDateTimeProp(comp, ical.PropDateTimeEnd, ev.End, ev.AllDay, ev.TimezoneID)

	if ev.Summary != "" {
		comp.Props.SetText(ical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		comp.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		comp.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.RecurrenceRule != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropRecurrenceRule, Value: ev.RecurrenceRule, Params: make(ical.Params)})
	}
	if recurrenceID != nil {
		setDateTimeProp(comp, ical.PropRecurrenceID, *recurrenceID, ev.AllDay, ev.TimezoneID)
	}

	// Cancelled occurrences are carried as EXDATEs on the master only.
	if recurrenceID == nil {
		for i := range ev.Exceptions {
			exc := &ev.Exceptions[i]
			if !exc.Cancelled {
				continue
			}
			addDateTimeProp(comp, ical.PropExceptionDates, exc.OriginalStart, ev.AllDay, ev.TimezoneID)
		}
	}

	return comp
}

func setDateTimeProp(comp *ical.Component, name string, t time.Time, allDay bool, tzid string) {
	comp.Props.Set(buildDateTimeProp(name, t, allDay, tzid))
}

func addDateTimeProp(comp *ical.Component, name string, t time.Time, allDay bool, tzid string) {
	comp.Props.Add(buildDateTimeProp(name, t, allDay, tzid))
}

// buildDateTimeProp re-localizes the internally UTC-normalized value into its
// original representation for the wire.
func buildDateTimeProp(name string, t time.Time, allDay bool, tzid string) *ical.Prop {
	prop := &ical.Prop{Name: name, Params: make(ical.Params)}

	if allDay {
		prop.Params.Set("VALUE", "DATE")
		prop.Value = t.UTC().Format(dateFormat)
		return prop
	}

	if tzid != "" {
		if loc, err := time.LoadLocation(tzid); err == nil {
			prop.Params.Set("TZID", tzid)
			prop.Value = t.In(loc).Format(dateTimeLocalFormat)
			return prop
		}
	}

	prop.Value = t.UTC().Format(dateTimeUTCFormat)
	return prop
}
