package registry

import (
	"context"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/internal/httpclient"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// PropfindFunc is a function type for mocking PROPFIND
type PropfindFunc func(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error)

type mockDAVClient struct {
	doPropfind PropfindFunc
}

func (m *mockDAVClient) DoPROPFIND(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error) {
	return m.doPropfind(ctx, url, depth, props...)
}

func (m *mockDAVClient) DoREPORT(ctx context.Context, url string, depth int, body []byte) (*davxml.Multistatus, error) {
	return nil, nil
}

func (m *mockDAVClient) DoPUT(ctx context.Context, url string, etag string, ifNoneMatch bool, data []byte) (string, error) {
	return "", nil
}

func (m *mockDAVClient) DoDELETE(ctx context.Context, url string, etag string) error {
	return nil
}

func fixedFactory(client httpclient.HttpClientWrapper) WrapperFactory {
	return func(caldav.ServerProfile, caldav.Credentials) (httpclient.HttpClientWrapper, error) {
		return client, nil
	}
}

func multistatusOf(resources ...davxml.Resource) *davxml.Multistatus {
	ms := &davxml.Multistatus{Resources: make(davxml.ResponseMap)}
	for _, res := range resources {
		ms.Hrefs = append(ms.Hrefs, res.Href)
		ms.Resources[res.Href] = mo.Ok(res)
	}
	return ms
}

var testProfile = caldav.ServerProfile{
	BaseURL:      "https://cloud.example.com",
	Type:         caldav.ServerNextcloud,
	CalendarRoot: "https://cloud.example.com/remote.php/dav/calendars/alice/",
}

var testCreds = caldav.Credentials{Username: "alice", Secret: "pw"}

func TestDiscover(t *testing.T) {
	mock := &mockDAVClient{
		doPropfind: func(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error) {
			assert.Equal(t, testProfile.CalendarRoot, url)
			assert.Equal(t, 1, depth)
			return multistatusOf(
				davxml.Resource{Href: "/remote.php/dav/calendars/alice/", IsCalendar: false},
				davxml.Resource{
					Href:            "/remote.php/dav/calendars/alice/personal/",
					IsCalendar:      true,
					DisplayName:     "Personal",
					Color:           "#0082C9FF",
					CTag:            "sync/42",
					HasPrivilegeSet: true,
					CanWrite:        true,
				},
				davxml.Resource{
					Href:            "/remote.php/dav/calendars/alice/shared_ro/",
					IsCalendar:      true,
					HasPrivilegeSet: true,
					CanWrite:        false,
				},
			), nil
		},
	}

	r := NewRegistry(nil, WithWrapperFactory(fixedFactory(mock)))
	calendars, err := r.Discover(context.Background(), testProfile, testCreds)
	require.NoError(t, err)
	require.Len(t, calendars, 2)

	personal := calendars[0]
	assert.Equal(t, "Personal", personal.Name)
	assert.Equal(t, "https://cloud.example.com/remote.php/dav/calendars/alice/personal/", personal.URL)
	assert.Equal(t, "#0082C9", personal.Color, "server color wins, alpha stripped")
	assert.Equal(t, "sync/42", personal.CTag)
	assert.False(t, personal.ReadOnly)
	assert.True(t, personal.Visible)

	shared := calendars[1]
	assert.Equal(t, "shared_ro", shared.Name, "display name falls back to the path leaf")
	assert.True(t, shared.ReadOnly)
	assert.Equal(t, defaultPalette[0], shared.Color, "uncolored calendar takes the first palette slot")
}

func TestDiscoverColorStability(t *testing.T) {
	hrefs := []string{"/cal/work/", "/cal/home/"}
	mock := &mockDAVClient{
		doPropfind: func(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error) {
			var resources []davxml.Resource
			for _, href := range hrefs {
				resources = append(resources, davxml.Resource{Href: href, IsCalendar: true})
			}
			return multistatusOf(resources...), nil
		},
	}

	r := NewRegistry(nil, WithWrapperFactory(fixedFactory(mock)))
	first, err := r.Discover(context.Background(), testProfile, testCreds)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, defaultPalette[0], first[0].Color)
	assert.Equal(t, defaultPalette[1], first[1].Color)

	// Re-discovery with a changed server order and a new calendar keeps the
	// existing assignments and hands the newcomer the next free slot.
	hrefs = []string{"/cal/home/", "/cal/new/", "/cal/work/"}
	second, err := r.Discover(context.Background(), testProfile, testCreds)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Equal(t, defaultPalette[1], second[0].Color)
	assert.Equal(t, defaultPalette[2], second[1].Color)
	assert.Equal(t, defaultPalette[0], second[2].Color)
}

func TestDiscoverPrincipalChase(t *testing.T) {
	var urls []string
	mock := &mockDAVClient{
		doPropfind: func(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error) {
			urls = append(urls, url)
			switch len(urls) {
			case 1:
				// Profile root is not a calendar home on this server.
				return multistatusOf(davxml.Resource{Href: "/", IsCalendar: false}), nil
			case 2:
				assert.Equal(t, 0, depth)
				return multistatusOf(davxml.Resource{Href: "/", CurrentUserPrincipal: "/principals/alice/"}), nil
			case 3:
				assert.Equal(t, "https://cloud.example.com/principals/alice/", url)
				return multistatusOf(davxml.Resource{Href: "/principals/alice/", CalendarHomeSet: "/calendars/alice/"}), nil
			default:
				assert.Equal(t, "https://cloud.example.com/calendars/alice/", url)
				assert.Equal(t, 1, depth)
				return multistatusOf(
					davxml.Resource{Href: "/calendars/alice/default/", IsCalendar: true, DisplayName: "Default"},
				), nil
			}
		},
	}

	r := NewRegistry(nil, WithWrapperFactory(fixedFactory(mock)))
	calendars, err := r.Discover(context.Background(), testProfile, testCreds)
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	assert.Equal(t, "Default", calendars[0].Name)
	assert.Len(t, urls, 4)
}

func TestDiscoverAuthError(t *testing.T) {
	mock := &mockDAVClient{
		doPropfind: func(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error) {
			return nil, caldav.ErrAuthentication
		},
	}

	r := NewRegistry(nil, WithWrapperFactory(fixedFactory(mock)))
	_, err := r.Discover(context.Background(), testProfile, testCreds)
	require.ErrorIs(t, err, caldav.ErrAuthentication)
}

func TestApplyPreferences(t *testing.T) {
	calendars := []caldav.Calendar{
		{URL: "https://x/a/", Color: "#3788d8", Visible: true},
		{URL: "https://x/b/", Color: "#28a745", Visible: true},
	}

	out := ApplyPreferences(calendars, caldav.Preferences{
		SelectedCalendarURLs: []string{"https://x/b/"},
		ColorOverrides:       map[string]string{"https://x/b/": "#000000"},
	})
	assert.False(t, out[0].Visible)
	assert.True(t, out[1].Visible)
	assert.Equal(t, "#000000", out[1].Color, "preference override wins")
	assert.Equal(t, "#3788d8", calendars[0].Color, "input slice untouched")
	assert.True(t, calendars[0].Visible)

	// No explicit selection leaves everything visible.
	all := ApplyPreferences(calendars, caldav.Preferences{})
	assert.True(t, all[0].Visible)
	assert.True(t, all[1].Visible)
}
