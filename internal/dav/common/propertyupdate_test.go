package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proppatchBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set>
    <D:prop>
      <D:displayname>Work Calendar</D:displayname>
      <C:calendar-color>#ff0000</C:calendar-color>
    </D:prop>
  </D:set>
  <D:remove>
    <D:prop>
      <D:getcontentlanguage/>
    </D:prop>
  </D:remove>
</D:propertyupdate>`

func TestParsePropertyUpdate(t *testing.T) {
	update, err := ParsePropertyUpdate([]byte(proppatchBody))
	require.NoError(t, err)

	require.Len(t, update.Set, 2)
	assert.Equal(t, "displayname", update.Set[0].Name.Local)
	assert.Equal(t, "Work Calendar", update.Set[0].Value)
	assert.Equal(t, "calendar-color", update.Set[1].Name.Local)
	assert.Equal(t, "#ff0000", update.Set[1].Value)

	require.Len(t, update.Remove, 1)
	assert.Equal(t, "getcontentlanguage", update.Remove[0].Local)
}

func TestParsePropertyUpdate_MalformedXML(t *testing.T) {
	_, err := ParsePropertyUpdate([]byte("<not-xml"))
	require.Error(t, err)
}

func TestParsePropertyUpdate_EmptyBody(t *testing.T) {
	_, err := ParsePropertyUpdate([]byte(""))
	require.Error(t, err)
}

func TestParsePropertyUpdate_SetOnlyNoRemove(t *testing.T) {
	body := `<D:propertyupdate xmlns:D="DAV:">
  <D:set>
    <D:prop><D:displayname>Home</D:displayname></D:prop>
  </D:set>
</D:propertyupdate>`
	update, err := ParsePropertyUpdate([]byte(body))
	require.NoError(t, err)
	require.Len(t, update.Set, 1)
	assert.Empty(t, update.Remove)
}
