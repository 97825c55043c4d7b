// Package recurrence materializes concrete occurrences from a recurring
// event and its exception set, bounded by a query window.
package recurrence

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// maxOccurrences caps a single expansion to keep a pathological rule from
// exploding the result set.
const maxOccurrences = 1000

// Engine expands events into occurrences. Expansion is pure and restartable:
// the same event and window always produce the same occurrences.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a new recurrence engine instance
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{logger: logger}
}

// Expand materializes the occurrences of ev intersecting [windowStart,
// windowEnd). Cancelled exceptions are omitted, modified exceptions replace
// the rule-derived fields. Orphan exceptions (no matching rule candidate)
// are reported in warnings and do not affect the result. The error return is
// fatal for the event: unparseable rule, ambiguous exception set, or an
// inverted window.
func (e *Engine) Expand(ev caldav.Event, windowStart, windowEnd time.Time) ([]caldav.Occurrence, []error, error) {
	if windowEnd.Before(windowStart) {
		return nil, nil, fmt.Errorf("window end %s is before window start %s", windowEnd, windowStart)
	}

	if err := checkDuplicateExceptions(ev); err != nil {
		return nil, nil, err
	}

	if !ev.Recurring() {
		if spanIntersects(ev.Start, ev.End, windowStart, windowEnd) {
			return []caldav.Occurrence{occurrenceFrom(&ev, ev.Start, ev.End, false)}, nil, nil
		}
		return nil, nil, nil
	}

	duration := ev.Duration()

	// Candidates starting before the window may still overlap it.
	candidates, err := e.expandRRule(ev.Start, ev.RecurrenceRule, windowStart.Add(-duration), windowEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", caldav.ErrMalformedObject, err)
	}

	matched := make([]bool, len(ev.Exceptions))
	var occurrences []caldav.Occurrence
	for _, start := range candidates {
		end := start.Add(duration)
		if !spanIntersects(start, end, windowStart, windowEnd) {
			continue
		}

		exc := markException(ev.Exceptions, matched, start)
		switch {
		case exc == nil:
			occurrences = append(occurrences, occurrenceFrom(&ev, start, end, false))
		case exc.Cancelled:
			// Omitted.
		case exc.Override != nil:
			occurrences = append(occurrences, occurrenceFrom(exc.Override, exc.Override.Start, exc.Override.End, true))
		default:
			// Neither cancelled nor overridden; nothing to substitute.
			occurrences = append(occurrences, occurrenceFrom(&ev, start, end, false))
		}
	}

	warnings := e.orphanWarnings(ev, matched, windowStart.Add(-duration), windowEnd)
	return occurrences, warnings, nil
}

// expandRRule expands an RRULE anchored at the master start within the given
// range, inclusive of start, exclusive of end.
func (e *Engine) expandRRule(masterStart time.Time, rruleStr string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	fullRRule := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)

	ruleSet, err := rrule.StrToRRuleSet(fullRRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rruleStr, err)
	}

	occurrences := ruleSet.Between(rangeStart, rangeEnd, true)
	if len(occurrences) > maxOccurrences {
		e.logger.Warn("recurrence expansion truncated",
			"rrule", rruleStr,
			"count", len(occurrences),
			"cap", maxOccurrences)
		occurrences = occurrences[:maxOccurrences]
	}

	// Between is inclusive of the end point; the window is end-exclusive.
	for len(occurrences) > 0 && !occurrences[len(occurrences)-1].Before(rangeEnd) {
		occurrences = occurrences[:len(occurrences)-1]
	}
	return occurrences, nil
}

// markException finds the exception matching a candidate start and records
// the match for orphan detection.
func markException(exceptions []caldav.Exception, matched []bool, start time.Time) *caldav.Exception {
	for i := range exceptions {
		if caldav.ExceptionMatches(exceptions[i].OriginalStart, start) {
			matched[i] = true
			return &exceptions[i]
		}
	}
	return nil
}

// orphanWarnings reports exceptions inside the scanned range that matched no
// rule candidate. Exceptions outside the range cannot be judged from this
// window and are left alone.
func (e *Engine) orphanWarnings(ev caldav.Event, matched []bool, rangeStart, rangeEnd time.Time) []error {
	var warnings []error
	for i := range ev.Exceptions {
		if matched[i] {
			continue
		}
		orig := ev.Exceptions[i].OriginalStart
		if orig.Before(rangeStart) || !orig.Before(rangeEnd) {
			continue
		}
		e.logger.Warn("orphan recurrence exception",
			"uid", ev.UID,
			"original_start", orig)
		warnings = append(warnings, fmt.Errorf("%w: event %s has an exception at %s matching no occurrence",
			caldav.ErrMalformedObject, ev.UID, orig))
	}
	return warnings
}

// checkDuplicateExceptions rejects ambiguous exception sets: two entries for
// the same original start cannot be applied deterministically.
func checkDuplicateExceptions(ev caldav.Event) error {
	seen := make(map[int64]time.Time, len(ev.Exceptions))
	for i := range ev.Exceptions {
		key := ev.Exceptions[i].OriginalStart.UTC().Unix()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: event %s has duplicate exceptions for %s",
				caldav.ErrMalformedObject, ev.UID, ev.Exceptions[i].OriginalStart)
		}
		seen[key] = ev.Exceptions[i].OriginalStart
	}
	return nil
}

// spanIntersects reports whether [start, end) overlaps [windowStart,
// windowEnd). Zero-length events count when their start is inside the window.
func spanIntersects(start, end, windowStart, windowEnd time.Time) bool {
	if !start.Before(windowEnd) {
		return false
	}
	if end.After(windowStart) {
		return true
	}
	return end.Equal(start) && !start.Before(windowStart)
}

func occurrenceFrom(ev *caldav.Event, start, end time.Time, isException bool) caldav.Occurrence {
	return caldav.Occurrence{
		EventUID:    ev.UID,
		EventHref:   ev.Href,
		CalendarURL: ev.CalendarURL,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
		IsException: isException,
	}
}
