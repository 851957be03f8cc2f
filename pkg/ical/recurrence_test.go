package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRRule(t *testing.T, raw string) *RRule {
	t.Helper()
	r, err := ParseRRule(raw)
	require.NoError(t, err)
	return r
}

func TestExpand_NonRecurring(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{DTStart: dtstart, Duration: time.Hour}

	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 1)
	assert.True(t, occ[0].IsMaster)
	assert.Equal(t, dtstart, occ[0].Start)
	assert.Equal(t, dtstart.Add(time.Hour), occ[0].End)
}

func TestExpand_DailyWithCount(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=DAILY;COUNT=5"),
	}

	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 5)
	for i, o := range occ {
		assert.Equal(t, dtstart.AddDate(0, 0, i), o.Start)
	}
}

func TestExpand_RangeBoundaries(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=DAILY;COUNT=10"),
	}

	// Window [Jan 3 00:00, Jan 4 00:00) should only catch the Jan 3 occurrence.
	rangeStart := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	rangeEnd := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	occ := Expand(rs, rangeStart, rangeEnd)
	require.Len(t, occ, 1)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), occ[0].Start)
}

func TestExpand_RangeEndExclusiveAtOccurrenceStart(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=DAILY;COUNT=3"),
	}
	// rangeEnd exactly at an occurrence's start excludes that occurrence
	// (half-open interval, RFC 4791 §7.8.3).
	rangeEnd := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	occ := Expand(rs, time.Time{}, rangeEnd)
	require.Len(t, occ, 1)
	assert.Equal(t, dtstart, occ[0].Start)
}

func TestExpand_ExcludesExdate(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	excluded := dtstart.AddDate(0, 0, 2)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=DAILY;COUNT=5"),
		ExDates:  []time.Time{excluded},
	}

	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 4)
	for _, o := range occ {
		assert.False(t, o.Start.Equal(excluded))
	}
}

func TestExpand_IncludesRdateAndDedupes(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	extra := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=DAILY;COUNT=2"),
		RDates:   []time.Time{extra, dtstart}, // dtstart duplicate must be deduped
	}

	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 3)
	assert.Equal(t, extra, occ[len(occ)-1].Start)
}

func TestExpand_MaxInstancesBound(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:      dtstart,
		Duration:     time.Hour,
		RRule:        mustRRule(t, "FREQ=DAILY"),
		MaxInstances: 3,
	}
	occ := Expand(rs, time.Time{}, time.Time{})
	assert.Len(t, occ, 3)
}

func TestExpand_MonthlyByMonthDayClamped(t *testing.T) {
	// DTSTART on the 31st: months without a 31st must clamp (Feb -> 28/29).
	dtstart := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=MONTHLY;COUNT=3"),
	}
	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 3)
	assert.Equal(t, time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC), occ[0].Start)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), occ[1].Start) // 2024 is a leap year
	assert.Equal(t, time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC), occ[2].Start)
}

func TestExpand_WeeklyByDay(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // a Monday
	rs := RecurrenceSet{
		DTStart:  dtstart,
		Duration: time.Hour,
		RRule:    mustRRule(t, "FREQ=WEEKLY;COUNT=4;BYDAY=MO,WE"),
	}
	occ := Expand(rs, time.Time{}, time.Time{})
	require.Len(t, occ, 4)
	want := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	for i, o := range occ {
		assert.Equal(t, want[i], o.Start)
	}
}

func TestApplyBySetPos(t *testing.T) {
	candidates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
	}
	first := applyBySetPos(candidates, []int{1})
	require.Len(t, first, 1)
	assert.Equal(t, candidates[0], first[0])

	last := applyBySetPos(candidates, []int{-1})
	require.Len(t, last, 1)
	assert.Equal(t, candidates[3], last[0])

	unchanged := applyBySetPos(candidates, nil)
	assert.Equal(t, candidates, unchanged)
}
