package ical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//davcore//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240115T090000Z\r\n" +
	"DTEND:20240115T100000Z\r\n" +
	"SUMMARY:Team Sync\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cal, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	out, err := Encode(cal)
	require.NoError(t, err)

	cal2, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, len(cal.Children), len(cal2.Children))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("not an ics document"))
	require.Error(t, err)
}

func TestTopLevelComponent(t *testing.T) {
	cal, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	name, err := TopLevelComponent(cal)
	require.NoError(t, err)
	assert.Equal(t, "VEVENT", name)
}

func TestTopLevelComponent_NoSupportedComponent(t *testing.T) {
	cal, err := Decode([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"))
	require.NoError(t, err)
	_, err = TopLevelComponent(cal)
	require.Error(t, err)
}

func TestFindComponentAndComponents(t *testing.T) {
	cal, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	comp := FindComponent(cal, "VEVENT")
	require.NotNil(t, comp)
	assert.Equal(t, "event-1@example.com", comp.Props.Get("UID").Value)

	all := FindComponents(cal, "VEVENT")
	assert.Len(t, all, 1)

	assert.Nil(t, FindComponent(cal, "VTODO"))
}

func TestNormalize(t *testing.T) {
	out, err := Normalize([]byte(sampleEvent))
	require.NoError(t, err)
	assert.Contains(t, string(out), "SUMMARY:Team Sync")
}
