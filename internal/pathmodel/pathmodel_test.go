package pathmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "principal calendar home", path: "/calendars/alice"},
		{name: "calendar collection", path: "/calendars/alice/work"},
		{name: "calendar object", path: "/calendars/alice/work/event1.ics"},
		{name: "addressbook object", path: "/addressbooks/bob/contacts/card1.vcf"},
		{name: "trailing slash tolerated", path: "/calendars/alice/work/"},
		{name: "terminal glob", path: "/calendars/alice/*"},
		{name: "terminal recursive glob", path: "/calendars/alice/**"},
		{name: "unknown resource type", path: "/widgets/alice", wantErr: true},
		{name: "empty path", path: "", wantErr: true},
		{name: "missing owner", path: "/calendars", wantErr: true},
		{name: "non-final glob", path: "/calendars/alice/*/event1.ics", wantErr: true},
		{name: "dot in non-final collection segment", path: "/calendars/alice/w.ork/event1.ics", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Parse(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, loc)
		})
	}
}

func TestResourceLocation_RoundTrip(t *testing.T) {
	loc, err := Parse("/calendars/alice/work/event1.ics")
	require.NoError(t, err)

	rt, ok := loc.ResourceType()
	assert.True(t, ok)
	assert.Equal(t, ResourceCalendar, rt)

	owner, ok := loc.Owner()
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)

	assert.Equal(t, []string{"work"}, loc.CollectionSegments())

	id, ext, ok := loc.Item()
	assert.True(t, ok)
	assert.Equal(t, "event1", id)
	assert.Equal(t, ".ics", ext)

	out, err := loc.Serialize(false)
	require.NoError(t, err)
	assert.Equal(t, "/calendars/alice/work/event1.ics", out)
}

func TestResourceLocation_Item_NoExtension(t *testing.T) {
	loc, err := Parse("/addressbooks/bob/card1")
	require.NoError(t, err)
	id, ext, ok := loc.Item()
	assert.True(t, ok)
	assert.Equal(t, "card1", id)
	assert.Equal(t, "", ext)
}

func TestResourceLocation_IsGlob(t *testing.T) {
	loc, err := Parse("/calendars/alice/**")
	require.NoError(t, err)
	recursive, ok := loc.IsGlob()
	assert.True(t, ok)
	assert.True(t, recursive)

	loc2, err := Parse("/calendars/alice/work/event1.ics")
	require.NoError(t, err)
	_, ok = loc2.IsGlob()
	assert.False(t, ok)
}

func TestResourceLocation_Serialize_GlobDisallowed(t *testing.T) {
	loc, err := Parse("/calendars/alice/*")
	require.NoError(t, err)
	_, err = loc.Serialize(false)
	require.ErrorIs(t, err, ErrCannotSerializeGlob)

	out, err := loc.Serialize(true)
	require.NoError(t, err)
	assert.Equal(t, "/calendars/alice/*", out)
}

func TestResourceLocation_WithCanonicalTail(t *testing.T) {
	loc, err := Parse("/calendars/alice/work/event1.ics")
	require.NoError(t, err)

	canon := loc.WithCanonicalTail("uuid-owner", []string{"uuid-coll"}, "uuid-item", ".ics")
	out, err := canon.Serialize(false)
	require.NoError(t, err)
	assert.Equal(t, "/calendars/uuid-owner/uuid-coll/uuid-item.ics", out)
}

func TestResourceLocation_ToResourcePath(t *testing.T) {
	loc, err := Parse("/calendars/alice/work")
	require.NoError(t, err)
	p, err := loc.ToResourcePath()
	require.NoError(t, err)
	assert.Equal(t, "/calendars/alice/work", p)
}
