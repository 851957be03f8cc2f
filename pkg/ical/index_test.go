package ical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calstack/davcore/internal/collation"
)

func TestBuildCalIndex(t *testing.T) {
	cal, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	idx, err := BuildCalIndex("entity-1", cal)
	require.NoError(t, err)

	assert.Equal(t, "VEVENT", idx.ComponentType)
	assert.Equal(t, "event-1@example.com", idx.UID)
	assert.Equal(t, "Team Sync", idx.Summary)
	assert.Equal(t, collation.AsciiFold("Team Sync"), idx.SummaryAsciiFold)
	assert.Equal(t, collation.UnicodeFold("Team Sync"), idx.SummaryUnicodeFold)
	require.NotNil(t, idx.DTStartUTC)
	require.NotNil(t, idx.DTEndUTC)
	assert.True(t, idx.DTEndUTC.After(*idx.DTStartUTC))
}

func TestBuildCalIndex_DurationDerivedEnd(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:event-2@example.com\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240115T090000Z\r\n" +
		"DURATION:PT1H\r\n" +
		"SUMMARY:Duration-based\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	cal, err := Decode([]byte(raw))
	require.NoError(t, err)

	idx, err := BuildCalIndex("entity-2", cal)
	require.NoError(t, err)
	require.NotNil(t, idx.DTStartUTC)
	require.NotNil(t, idx.DTEndUTC)
	assert.Equal(t, idx.DTStartUTC.Add(3600_000_000_000), *idx.DTEndUTC)
}

func TestBuildCalIndex_NoDTEndOrDuration(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"BEGIN:VTODO\r\n" +
		"UID:todo-1@example.com\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"SUMMARY:No dates\r\n" +
		"END:VTODO\r\n" +
		"END:VCALENDAR\r\n"

	cal, err := Decode([]byte(raw))
	require.NoError(t, err)

	idx, err := BuildCalIndex("entity-3", cal)
	require.NoError(t, err)
	assert.Equal(t, "VTODO", idx.ComponentType)
	assert.Nil(t, idx.DTStartUTC)
	assert.Nil(t, idx.DTEndUTC)
}
