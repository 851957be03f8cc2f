package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkInterval(startHour, endHour int) Interval {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Interval{S: day.Add(time.Duration(startHour) * time.Hour), E: day.Add(time.Duration(endHour) * time.Hour)}
}

func TestMergeIntervals(t *testing.T) {
	t.Run("empty and single pass through", func(t *testing.T) {
		assert.Empty(t, MergeIntervals(nil))
		one := []Interval{mkInterval(9, 10)}
		assert.Equal(t, one, MergeIntervals(one))
	})

	t.Run("overlapping merge", func(t *testing.T) {
		in := []Interval{mkInterval(9, 11), mkInterval(10, 12)}
		out := MergeIntervals(in)
		require.Len(t, out, 1)
		assert.Equal(t, mkInterval(9, 12), out[0])
	})

	t.Run("disjoint intervals with a gap stay separate", func(t *testing.T) {
		in := []Interval{mkInterval(9, 10), mkInterval(11, 12)}
		out := MergeIntervals(in)
		assert.Len(t, out, 2)
	})

	t.Run("unsorted input gets sorted and merged", func(t *testing.T) {
		in := []Interval{mkInterval(14, 15), mkInterval(9, 10), mkInterval(9, 13)}
		out := MergeIntervals(in)
		require.Len(t, out, 2)
		assert.Equal(t, mkInterval(9, 13), out[0])
		assert.Equal(t, mkInterval(14, 15), out[1])
	})

	t.Run("fully contained interval absorbed", func(t *testing.T) {
		in := []Interval{mkInterval(9, 17), mkInterval(10, 11)}
		out := MergeIntervals(in)
		require.Len(t, out, 1)
		assert.Equal(t, mkInterval(9, 17), out[0])
	})
}

func TestBuildFreeBusyICS(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	busy := []Interval{mkInterval(9, 10)}

	out := BuildFreeBusyICS(start, end, busy, "-//davcore//test//EN")
	require.NotNil(t, out)
	s := string(out)
	assert.Contains(t, s, "BEGIN:VFREEBUSY")
	assert.Contains(t, s, "FREEBUSY")
	assert.Contains(t, s, "-//davcore//test//EN")
}

func TestEnsureDTStamp_AddsMissingStamp(t *testing.T) {
	noStamp := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:no-stamp@example.com\r\n" +
		"DTSTART:20240115T090000Z\r\n" +
		"SUMMARY:Missing stamp\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	out, changed := EnsureDTStamp([]byte(noStamp))
	assert.True(t, changed)
	assert.Contains(t, string(out), "DTSTAMP")
}

func TestEnsureDTStamp_LeavesExistingStampAlone(t *testing.T) {
	out, changed := EnsureDTStamp([]byte(sampleEvent))
	assert.False(t, changed)
	assert.Equal(t, []byte(sampleEvent), out)
}

func TestEnsureDTStamp_MalformedInputUnchanged(t *testing.T) {
	out, changed := EnsureDTStamp([]byte("garbage"))
	assert.False(t, changed)
	assert.Equal(t, []byte("garbage"), out)
}
