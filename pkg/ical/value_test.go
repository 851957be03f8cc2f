package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateTime(t *testing.T) {
	t.Run("UTC form", func(t *testing.T) {
		got, err := ParseDateTime("20240115T090000Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), got)
	})
	t.Run("floating form treated as UTC", func(t *testing.T) {
		got, err := ParseDateTime("20240115T090000")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), got)
	})
	t.Run("bad shape", func(t *testing.T) {
		_, err := ParseDateTime("not-a-date")
		require.Error(t, err)
	})
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("20240115")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("2024011")
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"P1D", 24 * time.Hour},
		{"PT1H", time.Hour},
		{"PT30M", 30 * time.Minute},
		{"P1DT2H3M4S", 24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second},
		{"-P2W", -14 * 24 * time.Hour},
		{"+PT1H", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDuration(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("errors", func(t *testing.T) {
		for _, bad := range []string{"", "1D", "PX"} {
			_, err := ParseDuration(bad)
			assert.Error(t, err, bad)
		}
	})
}

func TestParsePeriod(t *testing.T) {
	t.Run("explicit end", func(t *testing.T) {
		p, err := ParsePeriod("20240101T090000Z/20240101T100000Z")
		require.NoError(t, err)
		assert.True(t, p.HasEnd)
		assert.Equal(t, time.Hour, p.End.Sub(p.Start))
	})
	t.Run("duration form", func(t *testing.T) {
		p, err := ParsePeriod("20240101T090000Z/PT1H")
		require.NoError(t, err)
		assert.Equal(t, time.Hour, p.Duration)
		assert.Equal(t, p.Start.Add(time.Hour), p.End)
	})
	t.Run("missing slash", func(t *testing.T) {
		_, err := ParsePeriod("20240101T090000Z")
		require.Error(t, err)
	})
}

func TestParseUTCOffset(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"+0100", time.Hour},
		{"-0530", -(5*time.Hour + 30*time.Minute)},
		{"+010000", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseUTCOffset(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseUTCOffset("bad")
	require.Error(t, err)
}

func TestUnescapeAndEscapeText(t *testing.T) {
	raw := `Line1\nLine2\; with a comma\, and a backslash\\`
	unescaped := UnescapeText(raw)
	assert.Equal(t, "Line1\nLine2; with a comma, and a backslash\\", unescaped)

	reescaped := EscapeText(unescaped)
	assert.Equal(t, raw, reescaped)
}

func TestSplitStructured(t *testing.T) {
	fields := SplitStructured(`Doe;John;;Dr.;Jr.`)
	require.Len(t, fields, 5)
	assert.Equal(t, []string{"Doe"}, fields[0])
	assert.Equal(t, []string{"John"}, fields[1])
	assert.Equal(t, []string{""}, fields[2])
}

func TestSplitStructured_MultiValuedComponent(t *testing.T) {
	fields := SplitStructured(`Doe;John,Jon;`)
	require.Len(t, fields, 3)
	assert.Equal(t, []string{"John", "Jon"}, fields[1])
}

func TestResolveValue_ImplicitTypes(t *testing.T) {
	v, err := ResolveValue("DTSTART", "", "20240101T090000Z")
	require.NoError(t, err)
	assert.Equal(t, KindDateTime, v.Kind)

	v, err = ResolveValue("RRULE", "", "FREQ=DAILY;COUNT=1")
	require.NoError(t, err)
	require.Equal(t, KindRecur, v.Kind)
	assert.Equal(t, "DAILY", v.Recur.Freq)

	v, err = ResolveValue("SUMMARY", "", `Hello\, world`)
	require.NoError(t, err)
	assert.Equal(t, KindText, v.Kind)
	assert.Equal(t, "Hello, world", v.Text)
}

func TestResolveValue_ExplicitOverridesDefault(t *testing.T) {
	v, err := ResolveValue("DTSTART", "DATE", "20240101")
	require.NoError(t, err)
	assert.Equal(t, KindDate, v.Kind)
	assert.True(t, v.DateOnly)
}

func TestResolveListValue_ShapeSniffing(t *testing.T) {
	v, err := ResolveListValue("EXDATE", "", "20240101")
	require.NoError(t, err)
	assert.Equal(t, KindDateList, v.Kind)

	v, err = ResolveListValue("EXDATE", "", "20240101T090000Z,20240102T090000Z")
	require.NoError(t, err)
	assert.Equal(t, KindDateTimeList, v.Kind)
	assert.Len(t, v.DateTimes, 2)

	v, err = ResolveListValue("FREEBUSY", "", "20240101T090000Z/PT1H")
	require.NoError(t, err)
	assert.Equal(t, KindPeriodList, v.Kind)
}
