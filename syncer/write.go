package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/codec"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// Mutation edits an event in place before it is written back.
type Mutation func(*caldav.Event)

const untilFormat = "20060102T150405Z"

// CreateEvent stores a new event in the calendar and returns it with the
// server-assigned ETag and object URL filled in.
func (s *Syncer) CreateEvent(ctx context.Context, calendarURL string, ev caldav.Event) (caldav.Event, error) {
	if strings.TrimSpace(ev.Summary) == "" {
		return caldav.Event{}, fmt.Errorf("%w: event needs a summary", caldav.ErrValidation)
	}
	if err := normalizeTimes(&ev); err != nil {
		return caldav.Event{}, err
	}
	if ev.RecurrenceRule != "" {
		if err := validateRule(ev.RecurrenceRule); err != nil {
			return caldav.Event{}, err
		}
	}

	if ev.UID == "" {
		ev.UID = uuid.New().String()
	}
	ev.CalendarURL = calendarURL
	ev.Href = resolveHref(calendarURL, ev.UID+".ics")

	lock := s.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()

	if err := s.putEvent(ctx, &ev, "", true); err != nil {
		return caldav.Event{}, err
	}
	s.logger.Debug("created event", "uid", ev.UID, "href", ev.Href)
	return ev, nil
}

// UpdateEvent applies a mutation to the event with the given UID. For
// recurring events the scope picks which occurrences change; occurrenceStart
// names the edited occurrence for ScopeThisOccurrence and ScopeThisAndFuture.
// The etag the caller last saw guards against concurrent edits; a stale etag
// surfaces as ErrWriteConflict, never a silent overwrite. An empty etag opts
// out of that guard and matches whatever the server currently stores.
func (s *Syncer) UpdateEvent(ctx context.Context, calendarURL, uid, etag string, mutate Mutation, scope Scope, occurrenceStart time.Time) (caldav.Event, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return caldav.Event{}, err
	}

	lock := s.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.findEvent(ctx, calendarURL, uid)
	if err != nil {
		return caldav.Event{}, err
	}
	if etag == "" {
		etag = current.ETag
	}
	if !current.Recurring() && scope != ScopeEntireSeries {
		return caldav.Event{}, fmt.Errorf("%w: scope %q needs a recurring event", caldav.ErrValidation, scope)
	}

	switch scope {
	case ScopeEntireSeries:
		mutate(&current)
		current.UID = uid
		current.CalendarURL = calendarURL
		if err := normalizeTimes(&current); err != nil {
			return caldav.Event{}, err
		}
		if err := s.putEvent(ctx, &current, etag, false); err != nil {
			return caldav.Event{}, err
		}
		return current, nil

	case ScopeThisOccurrence:
		if err := s.requireOccurrence(current, occurrenceStart); err != nil {
			return caldav.Event{}, err
		}
		override := overrideBase(current, occurrenceStart)
		mutate(&override)
		if err := normalizeTimes(&override); err != nil {
			return caldav.Event{}, err
		}
		setException(&current, caldav.Exception{
			OriginalStart: occurrenceStart,
			Override:      &override,
		})
		if err := s.putEvent(ctx, &current, etag, false); err != nil {
			return caldav.Event{}, err
		}
		return current, nil

	case ScopeThisAndFuture:
		if err := s.requireOccurrence(current, occurrenceStart); err != nil {
			return caldav.Event{}, err
		}
		// Cutting at the first occurrence leaves no head behind; rewrite the
		// series in place instead of storing an empty master.
		if !occurrenceStart.After(current.Start) {
			mutate(&current)
			current.UID = uid
			current.CalendarURL = calendarURL
			if err := normalizeTimes(&current); err != nil {
				return caldav.Event{}, err
			}
			if err := s.putEvent(ctx, &current, etag, false); err != nil {
				return caldav.Event{}, err
			}
			return current, nil
		}

		head, err := s.occurrencesBefore(current, occurrenceStart)
		if err != nil {
			return caldav.Event{}, err
		}
		tail := splitTail(current, occurrenceStart, head)
		mutate(&tail)
		if err := normalizeTimes(&tail); err != nil {
			return caldav.Event{}, err
		}

		truncated := truncateSeries(current, occurrenceStart)
		if err := s.putEvent(ctx, &truncated, etag, false); err != nil {
			return caldav.Event{}, err
		}

		tail.Href = resolveHref(calendarURL, tail.UID+".ics")
		if err := s.putEvent(ctx, &tail, "", true); err != nil {
			return caldav.Event{}, err
		}
		s.logger.Debug("split recurring series",
			"uid", uid, "tail_uid", tail.UID, "cut", occurrenceStart)
		return tail, nil
	}
	return caldav.Event{}, fmt.Errorf("%w: unknown scope %q", caldav.ErrValidation, scope)
}

// DeleteEvent removes the event, an occurrence of it, or its tail, depending
// on scope. occurrenceStart names the affected occurrence for the scoped
// forms and is ignored for ScopeEntireSeries. As with UpdateEvent, an empty
// etag opts out of the conflict guard.
func (s *Syncer) DeleteEvent(ctx context.Context, calendarURL, uid, etag string, scope Scope, occurrenceStart time.Time) error {
	if _, err := ParseScope(string(scope)); err != nil {
		return err
	}

	lock := s.calendarLock(calendarURL)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.findEvent(ctx, calendarURL, uid)
	if err != nil {
		return err
	}
	if etag == "" {
		etag = current.ETag
	}
	if !current.Recurring() && scope != ScopeEntireSeries {
		return fmt.Errorf("%w: scope %q needs a recurring event", caldav.ErrValidation, scope)
	}

	switch scope {
	case ScopeEntireSeries:
		return s.client.DoDELETE(ctx, current.Href, etag)

	case ScopeThisOccurrence:
		if err := s.requireOccurrence(current, occurrenceStart); err != nil {
			return err
		}
		setException(&current, caldav.Exception{
			OriginalStart: occurrenceStart,
			Cancelled:     true,
		})
		return s.putEvent(ctx, &current, etag, false)

	case ScopeThisAndFuture:
		if err := s.requireOccurrence(current, occurrenceStart); err != nil {
			return err
		}
		// Cutting at or before the first occurrence leaves nothing behind.
		if !occurrenceStart.After(current.Start) {
			return s.client.DoDELETE(ctx, current.Href, etag)
		}
		truncated := truncateSeries(current, occurrenceStart)
		return s.putEvent(ctx, &truncated, etag, false)
	}
	return fmt.Errorf("%w: unknown scope %q", caldav.ErrValidation, scope)
}

// findEvent locates the stored object carrying a UID. The fast path guesses
// the conventional <uid>.ics name; calendars that store objects under other
// names are scanned with a multiget.
func (s *Syncer) findEvent(ctx context.Context, calendarURL, uid string) (caldav.Event, error) {
	candidate := resolveHref(calendarURL, uid+".ics")
	if ev, err := s.fetchObject(ctx, calendarURL, candidate); err == nil && ev.UID == uid {
		return ev, nil
	}

	listing, err := s.client.DoPROPFIND(ctx, calendarURL, 1, "getetag")
	if err != nil {
		return caldav.Event{}, err
	}
	for _, href := range listing.Hrefs {
		res, err := listing.Get(href)
		if err != nil || res.ETag == "" {
			continue
		}
		ev, err := s.fetchObject(ctx, calendarURL, href)
		if err != nil {
			continue
		}
		if ev.UID == uid {
			return ev, nil
		}
	}
	return caldav.Event{}, fmt.Errorf("%w: no event with uid %s in %s", caldav.ErrNotFound, uid, calendarURL)
}

// fetchObject retrieves and decodes one stored object by href.
func (s *Syncer) fetchObject(ctx context.Context, calendarURL, href string) (caldav.Event, error) {
	body, err := davxml.CalendarMultiget(hrefPath(href))
	if err != nil {
		return caldav.Event{}, err
	}
	ms, err := s.client.DoREPORT(ctx, calendarURL, 1, body)
	if err != nil {
		return caldav.Event{}, err
	}

	res, ok := ms.First(func(r davxml.Resource) bool { return r.CalendarData != "" })
	if !ok {
		return caldav.Event{}, fmt.Errorf("%w: no calendar data at %s", caldav.ErrNotFound, href)
	}

	events, decodeErrs := codec.Decode([]byte(res.CalendarData), calendarURL)
	if len(events) == 0 {
		if len(decodeErrs) > 0 {
			return caldav.Event{}, decodeErrs[0]
		}
		return caldav.Event{}, fmt.Errorf("%w: empty object at %s", caldav.ErrNotFound, href)
	}
	ev := events[0]
	ev.Href = resolveHref(calendarURL, href)
	ev.ETag = res.ETag
	return ev, nil
}

// putEvent encodes and stores the event, then fills in the new etag. Servers
// that omit the ETag header get one extra PROPFIND.
func (s *Syncer) putEvent(ctx context.Context, ev *caldav.Event, etag string, ifNoneMatch bool) error {
	data, err := codec.Encode(*ev)
	if err != nil {
		return err
	}
	newEtag, err := s.client.DoPUT(ctx, ev.Href, etag, ifNoneMatch, data)
	if err != nil {
		return err
	}
	if newEtag == "" {
		ms, err := s.client.DoPROPFIND(ctx, ev.Href, 0, "getetag")
		if err != nil {
			return fmt.Errorf("stored %s but could not read back its etag: %w", ev.Href, err)
		}
		if res, ok := ms.First(func(r davxml.Resource) bool { return r.ETag != "" }); ok {
			newEtag = res.ETag
		}
	}
	ev.ETag = newEtag
	return nil
}

// requireOccurrence verifies the series actually produces an occurrence at
// the given start, ignoring existing exceptions.
func (s *Syncer) requireOccurrence(ev caldav.Event, start time.Time) error {
	if start.IsZero() {
		return fmt.Errorf("%w: occurrence start is required for scoped edits", caldav.ErrValidation)
	}
	probe := ev
	probe.Exceptions = nil
	occs, _, err := s.engine.Expand(probe, start, start.Add(time.Second))
	if err != nil {
		return err
	}
	for _, occ := range occs {
		if caldav.ExceptionMatches(start, occ.Start) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no occurrence at %s", caldav.ErrValidation, ev.UID, start)
}

// overrideBase projects the master onto one occurrence as the starting point
// for an override.
func overrideBase(master caldav.Event, start time.Time) caldav.Event {
	return caldav.Event{
		UID:         master.UID,
		CalendarURL: master.CalendarURL,
		Summary:     master.Summary,
		Description: master.Description,
		Location:    master.Location,
		Start:       start,
		End:         start.Add(master.Duration()),
		AllDay:      master.AllDay,
		TimezoneID:  master.TimezoneID,
	}
}

// setException adds an exception, replacing any previous one for the same
// original start.
func setException(ev *caldav.Event, exc caldav.Exception) {
	for i := range ev.Exceptions {
		if caldav.ExceptionMatches(ev.Exceptions[i].OriginalStart, exc.OriginalStart) {
			ev.Exceptions[i] = exc
			return
		}
	}
	ev.Exceptions = append(ev.Exceptions, exc)
}

// truncateSeries ends the master just before the cut point and drops the
// exceptions that now fall outside it.
func truncateSeries(master caldav.Event, cut time.Time) caldav.Event {
	master.RecurrenceRule = truncateRule(master.RecurrenceRule, cut)
	var kept []caldav.Exception
	for _, exc := range master.Exceptions {
		if exc.OriginalStart.Before(cut) {
			kept = append(kept, exc)
		}
	}
	master.Exceptions = kept
	return master
}

// occurrencesBefore counts rule occurrences strictly before the cut,
// ignoring exceptions.
func (s *Syncer) occurrencesBefore(ev caldav.Event, cut time.Time) (int, error) {
	probe := ev
	probe.Exceptions = nil
	occs, _, err := s.engine.Expand(probe, ev.Start, cut)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, occ := range occs {
		if occ.Start.Before(cut) {
			n++
		}
	}
	return n, nil
}

// splitTail builds the continuation series starting at the cut point. It
// gets a fresh UID so the two halves evolve independently; overrides carried
// into the tail are rewritten to that UID, and a COUNT-limited rule loses
// the headCount occurrences the head keeps.
func splitTail(master caldav.Event, cut time.Time, headCount int) caldav.Event {
	duration := master.Duration()
	tail := master
	tail.UID = uuid.New().String()
	tail.Href = ""
	tail.ETag = ""
	tail.Start = cut
	tail.End = cut.Add(duration)
	tail.RecurrenceRule = reduceCount(master.RecurrenceRule, headCount)
	tail.Exceptions = nil
	for _, exc := range master.Exceptions {
		if exc.OriginalStart.Before(cut) {
			continue
		}
		if exc.Override != nil {
			override := *exc.Override
			override.UID = tail.UID
			override.CalendarURL = tail.CalendarURL
			override.Href = ""
			override.ETag = ""
			exc.Override = &override
		}
		tail.Exceptions = append(tail.Exceptions, exc)
	}
	return tail
}

// reduceCount subtracts already-consumed occurrences from a COUNT-limited
// rule so a split does not grow the series. UNTIL-limited and open-ended
// rules pass through unchanged.
func reduceCount(rule string, consumed int) string {
	parts := strings.Split(rule, ";")
	for i, part := range parts {
		if !strings.HasPrefix(strings.ToUpper(part), "COUNT=") {
			continue
		}
		n, err := strconv.Atoi(part[len("COUNT="):])
		if err != nil {
			return rule
		}
		remaining := n - consumed
		if remaining < 1 {
			remaining = 1
		}
		parts[i] = "COUNT=" + strconv.Itoa(remaining)
		break
	}
	return strings.Join(parts, ";")
}

// truncateRule rewrites an RRULE to stop just before the cut point. COUNT
// cannot coexist with UNTIL and is dropped.
func truncateRule(rule string, cut time.Time) string {
	until := cut.Add(-time.Second).UTC().Format(untilFormat)
	var parts []string
	for _, part := range strings.Split(rule, ";") {
		upper := strings.ToUpper(part)
		if strings.HasPrefix(upper, "UNTIL=") || strings.HasPrefix(upper, "COUNT=") {
			continue
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	parts = append(parts, "UNTIL="+until)
	return strings.Join(parts, ";")
}

// normalizeTimes applies the all-day defaults and rejects inverted spans.
func normalizeTimes(ev *caldav.Event) error {
	if ev.AllDay && ev.End.IsZero() {
		ev.End = ev.Start.AddDate(0, 0, 1)
	}
	if !ev.End.After(ev.Start) {
		return fmt.Errorf("%w: event end must be after start", caldav.ErrValidation)
	}
	return nil
}

// validateRule rejects rules the expander cannot parse, before they are
// stored.
func validateRule(rule string) error {
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fmt.Errorf("%w: bad recurrence rule: %v", caldav.ErrValidation, err)
	}
	return nil
}

// hrefPath strips the scheme and host from an absolute href; multiget hrefs
// are server-relative paths.
func hrefPath(href string) string {
	if i := strings.Index(href, "://"); i >= 0 {
		rest := href[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return href
}
