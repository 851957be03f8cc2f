package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRRule(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, r *RRule)
	}{
		{
			name: "daily with count",
			raw:  "FREQ=DAILY;COUNT=7",
			check: func(t *testing.T, r *RRule) {
				assert.Equal(t, "DAILY", r.Freq)
				assert.Equal(t, 7, r.Count)
				assert.Equal(t, 1, r.Interval)
				assert.False(t, r.HasUntil)
			},
		},
		{
			name: "weekly with interval and byday",
			raw:  "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,FR",
			check: func(t *testing.T, r *RRule) {
				assert.Equal(t, "WEEKLY", r.Freq)
				assert.Equal(t, 2, r.Interval)
				require.Len(t, r.ByDay, 3)
				assert.Equal(t, WeekdayNum{Weekday: "MO"}, r.ByDay[0])
			},
		},
		{
			name: "monthly with ordinal byday",
			raw:  "FREQ=MONTHLY;BYDAY=-1FR",
			check: func(t *testing.T, r *RRule) {
				require.Len(t, r.ByDay, 1)
				assert.Equal(t, -1, r.ByDay[0].Ordinal)
				assert.Equal(t, "FR", r.ByDay[0].Weekday)
			},
		},
		{
			name: "yearly with until",
			raw:  "FREQ=YEARLY;UNTIL=20301231T235959Z",
			check: func(t *testing.T, r *RRule) {
				assert.True(t, r.HasUntil)
				assert.Equal(t, 2030, r.Until.Year())
			},
		},
		{name: "count and until mutually exclusive", raw: "FREQ=DAILY;COUNT=5;UNTIL=20301231T235959Z", wantErr: true},
		{name: "missing freq", raw: "COUNT=5", wantErr: true},
		{name: "unknown freq", raw: "FREQ=FORTNIGHTLY", wantErr: true},
		{name: "bad interval", raw: "FREQ=DAILY;INTERVAL=0", wantErr: true},
		{name: "bad byday", raw: "FREQ=WEEKLY;BYDAY=ZZ", wantErr: true},
		{name: "malformed part", raw: "FREQ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRRule(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestRRule_String_RoundTrip(t *testing.T) {
	tests := []string{
		"FREQ=DAILY;COUNT=7",
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,FR",
		"FREQ=MONTHLY;BYDAY=-1FR",
		"FREQ=YEARLY;UNTIL=20301231T235959Z",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			r, err := ParseRRule(raw)
			require.NoError(t, err)
			r2, err := ParseRRule(r.String())
			require.NoError(t, err)
			assert.Equal(t, r.Freq, r2.Freq)
			assert.Equal(t, r.Count, r2.Count)
			assert.Equal(t, r.Interval, r2.Interval)
			assert.Equal(t, r.HasUntil, r2.HasUntil)
		})
	}
}

func TestRRule_ToLibRRule(t *testing.T) {
	r, err := ParseRRule("FREQ=DAILY;COUNT=3")
	require.NoError(t, err)
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	lib, err := r.toLibRRule(dtstart)
	require.NoError(t, err)
	require.NotNil(t, lib)
}
