package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/codec"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// CalendarStatus reports the outcome of one calendar in a fetch batch. A nil
// Err means the calendar was read successfully; Skipped counts individual
// objects dropped because they could not be decoded or expanded.
type CalendarStatus struct {
	CalendarURL string
	Err         error
	Skipped     int
}

// FetchResult is the merged outcome of a FetchRange batch. Occurrences from
// calendars that failed are simply absent; the failure is in Statuses.
type FetchResult struct {
	Occurrences []caldav.Occurrence
	Statuses    []CalendarStatus
}

// FetchRange loads all occurrences in [start, end) across the given
// calendars concurrently. One slow or broken calendar never hides the
// others: its status carries the error and the merge goes on without it.
func (s *Syncer) FetchRange(ctx context.Context, calendars []caldav.Calendar, start, end time.Time) (FetchResult, error) {
	if !end.After(start) {
		return FetchResult{}, fmt.Errorf("%w: range end must be after start", caldav.ErrValidation)
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	results := make([][]caldav.Occurrence, len(calendars))
	statuses := make([]CalendarStatus, len(calendars))

	var g errgroup.Group
	for i, cal := range calendars {
		statuses[i].CalendarURL = cal.URL
		g.Go(func() error {
			occs, skipped, err := s.fetchCalendar(batchCtx, cal, start, end)
			results[i] = occs
			statuses[i].Skipped = skipped
			statuses[i].Err = err
			if err != nil {
				s.logger.Warn("calendar fetch failed", "calendar", cal.URL, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	return FetchResult{
		Occurrences: mergeOccurrences(calendars, results),
		Statuses:    statuses,
	}, nil
}

// fetchCalendar runs one calendar-query REPORT and expands every object it
// returns. Broken objects are skipped and counted, never fatal for the
// calendar.
func (s *Syncer) fetchCalendar(ctx context.Context, cal caldav.Calendar, start, end time.Time) ([]caldav.Occurrence, int, error) {
	body, err := davxml.CalendarQuery(start, end)
	if err != nil {
		return nil, 0, err
	}

	ms, err := s.client.DoREPORT(ctx, cal.URL, 1, body)
	if err != nil {
		return nil, 0, err
	}

	var occurrences []caldav.Occurrence
	skipped := 0
	for _, href := range ms.Hrefs {
		res, err := ms.Get(href)
		if err != nil {
			s.logger.Debug("skipping unreadable object", "href", href, "error", err)
			skipped++
			continue
		}
		if res.CalendarData == "" {
			continue
		}

		events, decodeErrs := codec.Decode([]byte(res.CalendarData), cal.URL)
		skipped += len(decodeErrs)
		for _, err := range decodeErrs {
			s.logger.Warn("skipping undecodable event", "href", href, "error", err)
		}

		for _, ev := range events {
			ev.Href = resolveHref(cal.URL, href)
			ev.ETag = res.ETag
			occs, warnings, err := s.engine.Expand(ev, start, end)
			if err != nil {
				s.logger.Warn("skipping unexpandable event", "uid", ev.UID, "error", err)
				skipped++
				continue
			}
			for _, w := range warnings {
				s.logger.Warn("event expansion warning", "uid", ev.UID, "warning", w)
			}
			occurrences = append(occurrences, occs...)
		}
	}
	return occurrences, skipped, nil
}

// mergeOccurrences flattens the per-calendar results into one slice sorted by
// start time, tie-broken by calendar display order then UID.
func mergeOccurrences(calendars []caldav.Calendar, results [][]caldav.Occurrence) []caldav.Occurrence {
	order := make(map[string]int, len(calendars))
	for i, cal := range calendars {
		order[cal.URL] = i
	}

	var merged []caldav.Occurrence
	for _, occs := range results {
		merged = append(merged, occs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Start.Equal(merged[j].Start) {
			return merged[i].Start.Before(merged[j].Start)
		}
		if order[merged[i].CalendarURL] != order[merged[j].CalendarURL] {
			return order[merged[i].CalendarURL] < order[merged[j].CalendarURL]
		}
		return merged[i].EventUID < merged[j].EventUID
	})
	return merged
}
