package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

func testEngine() *Engine {
	return NewEngine(nil)
}

func timedEvent(uid string, start time.Time, dur time.Duration, rule string) caldav.Event {
	return caldav.Event{
		UID:            uid,
		CalendarURL:    "https://example.com/cal/",
		Summary:        "Test",
		Start:          start,
		End:            start.Add(dur),
		RecurrenceRule: rule,
	}
}

func starts(occs []caldav.Occurrence) []time.Time {
	out := make([]time.Time, len(occs))
	for i, o := range occs {
		out[i] = o.Start
	}
	return out
}

func TestExpandWeeklyCount(t *testing.T) {
	ev := timedEvent("w1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Hour, "FREQ=WEEKLY;COUNT=5")

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	want := []time.Time{
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC),
	}
	require.Len(t, occs, 5)
	for i, w := range want {
		assert.True(t, occs[i].Start.Equal(w), "occurrence %d: got %s want %s", i, occs[i].Start, w)
	}
}

func TestExpandDailyWithCancelledException(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := timedEvent("d1", start, 30*time.Minute, "FREQ=DAILY;COUNT=5")
	ev.Exceptions = []caldav.Exception{
		{OriginalStart: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), Cancelled: true},
	}

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Len(t, occs, 4)
	for _, o := range occs {
		assert.NotEqual(t, 3, o.Start.Day())
	}
}

func TestExpandModifiedException(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := timedEvent("m1", start, time.Hour, "FREQ=DAILY;COUNT=3")
	override := caldav.Event{
		UID:         "m1",
		CalendarURL: ev.CalendarURL,
		Summary:     "Moved later",
		Start:       time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
	}
	ev.Exceptions = []caldav.Exception{
		{OriginalStart: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), Override: &override},
	}

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, occs, 3)

	assert.Equal(t, "Test", occs[0].Summary)
	assert.Equal(t, "Moved later", occs[1].Summary)
	assert.True(t, occs[1].IsException)
	assert.True(t, occs[1].Start.Equal(override.Start))
	assert.Equal(t, "Test", occs[2].Summary)
}

func TestExpandExceptionInDifferentTimezoneRepresentation(t *testing.T) {
	// Rule anchored in UTC; the exception declared as the equivalent
	// Berlin wall-clock time must still cancel the occurrence.
	berlin := time.FixedZone("Europe/Berlin", 60*60)
	ev := timedEvent("tz1", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Hour, "FREQ=DAILY;COUNT=4")
	ev.Exceptions = []caldav.Exception{
		{OriginalStart: time.Date(2024, 1, 2, 13, 0, 0, 0, berlin), Cancelled: true},
	}

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Len(t, occs, 3)
	for _, o := range occs {
		assert.NotEqual(t, 2, o.Start.UTC().Day())
	}
}

func TestExpandDateOnlyExceptionCancelsAllDayOccurrence(t *testing.T) {
	ev := caldav.Event{
		UID:            "ad1",
		Summary:        "Daily chore",
		Start:          time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		AllDay:         true,
		RecurrenceRule: "FREQ=DAILY;COUNT=3",
		Exceptions: []caldav.Exception{
			{OriginalStart: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), Cancelled: true},
		},
	}

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, occs, 2)
	assert.Equal(t, 1, occs[0].Start.Day())
	assert.Equal(t, 3, occs[1].Start.Day())
}

func TestExpandNonRecurring(t *testing.T) {
	ev := timedEvent("n1", time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC), time.Hour, "")

	t.Run("inside window", func(t *testing.T) {
		occs, warnings, err := testEngine().Expand(ev,
			time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, occs, 1)
		assert.False(t, occs[0].IsException)
	})

	t.Run("outside window", func(t *testing.T) {
		occs, _, err := testEngine().Expand(ev,
			time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Empty(t, occs)
	})

	t.Run("overlapping window start", func(t *testing.T) {
		occs, _, err := testEngine().Expand(ev,
			time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC),
			time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, occs, 1)
	})
}

func TestExpandAllDaySingleOccurrence(t *testing.T) {
	// One-day all-day event on 2024-05-01: exactly one occurrence on that
	// day, none on 05-02.
	ev := caldav.Event{
		UID:    "allday1",
		Start:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}

	occs, _, err := testEngine().Expand(ev,
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 1)

	occs, _, err = testEngine().Expand(ev,
		time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, occs, "end-exclusive event must not appear on the following day")
}

func TestExpandWindowClipsSeries(t *testing.T) {
	ev := timedEvent("clip1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Hour, "FREQ=DAILY")

	occs, _, err := testEngine().Expand(ev,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 3)
	assert.Equal(t, 10, occs[0].Start.Day())
	assert.Equal(t, 12, occs[2].Start.Day())
}

func TestExpandDuplicateExceptionsRejected(t *testing.T) {
	ev := timedEvent("dup1", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), time.Hour, "FREQ=DAILY;COUNT=5")
	at := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	ev.Exceptions = []caldav.Exception{
		{OriginalStart: at, Cancelled: true},
		{OriginalStart: at, Override: &caldav.Event{UID: "dup1", Start: at, End: at.Add(time.Hour)}},
	}

	_, _, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, caldav.ErrMalformedObject)
}

func TestExpandOrphanExceptionWarns(t *testing.T) {
	ev := timedEvent("orphan1", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), time.Hour, "FREQ=DAILY;COUNT=5")
	// 9:30 never matches a rule-generated candidate.
	ev.Exceptions = []caldav.Exception{
		{OriginalStart: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), Cancelled: true},
	}

	occs, warnings, err := testEngine().Expand(ev,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 5, "orphan exception must not change the result")
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], caldav.ErrMalformedObject)
}

func TestExpandInvertedWindow(t *testing.T) {
	ev := timedEvent("inv1", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), time.Hour, "")
	_, _, err := testEngine().Expand(ev,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestExpandIsRestartable(t *testing.T) {
	ev := timedEvent("r1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Hour, "FREQ=WEEKLY;COUNT=10")
	ws := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	we := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	first, _, err := testEngine().Expand(ev, ws, we)
	require.NoError(t, err)
	second, _, err := testEngine().Expand(ev, ws, we)
	require.NoError(t, err)
	assert.Equal(t, starts(first), starts(second))
}
