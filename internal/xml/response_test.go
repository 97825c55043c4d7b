package xml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nextcloudMultistatus = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns" xmlns:cal="urn:ietf:params:xml:ns:caldav" xmlns:cs="http://calendarserver.org/ns/" xmlns:x1="http://apple.com/ns/ical/">
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/></d:resourcetype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/personal/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>
        <d:displayname>Personal</d:displayname>
        <x1:calendar-color>#0082C9FF</x1:calendar-color>
        <cs:getctag>http://sabre.io/ns/sync/42</cs:getctag>
        <d:current-user-privilege-set>
          <d:privilege><d:read/></d:privilege>
          <d:privilege><d:write/></d:privilege>
        </d:current-user-privilege-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/broken/</d:href>
    <d:propstat>
      <d:prop><d:displayname/></d:prop>
      <d:status>HTTP/1.1 404 Not Found</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestParseMultistatus(t *testing.T) {
	ms, err := ParseMultistatus([]byte(nextcloudMultistatus))
	require.NoError(t, err)
	require.Len(t, ms.Hrefs, 3)
	assert.Equal(t, "/remote.php/dav/calendars/alice/", ms.Hrefs[0], "server order must be preserved")

	home, err := ms.Get("/remote.php/dav/calendars/alice/")
	require.NoError(t, err)
	assert.False(t, home.IsCalendar)

	personal, err := ms.Get("/remote.php/dav/calendars/alice/personal/")
	require.NoError(t, err)
	assert.True(t, personal.IsCalendar)
	assert.Equal(t, "Personal", personal.DisplayName)
	assert.Equal(t, "#0082C9FF", personal.Color)
	assert.Equal(t, "http://sabre.io/ns/sync/42", personal.CTag)
	assert.True(t, personal.CanWrite)

	broken := ms.Resources["/remote.php/dav/calendars/alice/broken/"]
	assert.True(t, broken.IsError())
}

func TestParseMultistatusPrincipal(t *testing.T) {
	body := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/</d:href>
    <d:propstat>
      <d:prop>
        <d:current-user-principal><d:href>/principals/alice/</d:href></d:current-user-principal>
        <c:calendar-home-set><d:href>/calendars/alice/</d:href></c:calendar-home-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	ms, err := ParseMultistatus([]byte(body))
	require.NoError(t, err)

	res := ms.Resources["/"].MustGet()
	assert.Equal(t, "/principals/alice/", res.CurrentUserPrincipal)
	assert.Equal(t, "/calendars/alice/", res.CalendarHomeSet)
}

func TestParseMultistatusRejectsNonMultistatus(t *testing.T) {
	_, err := ParseMultistatus([]byte(`<html><body>login page</body></html>`))
	require.Error(t, err)

	_, err = ParseMultistatus([]byte(`not xml at all`))
	require.Error(t, err)
}
