// Package registry discovers the calendar collections an account can see and
// assigns each one a stable display color.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/internal/httpclient"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// defaultPalette is cycled through for calendars whose server reports no
// color of its own.
var defaultPalette = []string{
	"#3788d8", "#28a745", "#dc3545", "#ffc107", "#6f42c1",
	"#fd7e14", "#20c997", "#e83e8c", "#6c757d", "#17a2b8",
}

var calendarProps = []string{
	"resourcetype",
	"displayname",
	"calendar-color",
	"current-user-privilege-set",
	"getctag",
}

// WrapperFactory builds the DAV transport for one account. Tests swap it for
// a mock.
type WrapperFactory func(profile caldav.ServerProfile, creds caldav.Credentials) (httpclient.HttpClientWrapper, error)

// Registry lists calendars and keeps per-URL color assignments stable for the
// lifetime of the Registry.
type Registry struct {
	logger     *slog.Logger
	timeout    time.Duration
	newWrapper WrapperFactory

	mu         sync.Mutex
	colorByURL map[string]string
	nextSlot   int
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds each individual DAV request during discovery.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithWrapperFactory replaces the transport constructor, mainly for tests.
func WithWrapperFactory(f WrapperFactory) Option {
	return func(r *Registry) { r.newWrapper = f }
}

// NewRegistry creates a Registry. A nil logger discards debug output.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{
		logger:     logger,
		colorByURL: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newWrapper == nil {
		r.newWrapper = r.defaultWrapper
	}
	return r
}

func (r *Registry) defaultWrapper(profile caldav.ServerProfile, creds caldav.Credentials) (httpclient.HttpClientWrapper, error) {
	base, err := url.Parse(profile.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrInvalidConfiguration, err)
	}
	client := &http.Client{
		Transport: httpclient.NewBasicAuthTransport(creds.Username, creds.Secret, nil, r.logger),
	}
	return httpclient.NewHttpClientWrapper(client, *base, r.logger, r.timeout)
}

// Discover lists the calendars visible to the account. It first asks the
// profile's calendar root directly; servers whose root is not a calendar home
// are handled by chasing current-user-principal and calendar-home-set.
// Calendars come back in server order with colors already assigned.
func (r *Registry) Discover(ctx context.Context, profile caldav.ServerProfile, creds caldav.Credentials) ([]caldav.Calendar, error) {
	wrapper, err := r.newWrapper(profile, creds)
	if err != nil {
		return nil, err
	}

	calendars, err := r.listCalendars(ctx, wrapper, profile.CalendarRoot)
	if err != nil && !errors.Is(err, caldav.ErrNotFound) {
		return nil, err
	}

	if len(calendars) == 0 {
		home, chaseErr := r.chaseCalendarHome(ctx, wrapper, profile.BaseURL)
		if chaseErr != nil {
			if err != nil {
				return nil, err
			}
			return nil, chaseErr
		}
		calendars, err = r.listCalendars(ctx, wrapper, home)
		if err != nil {
			return nil, err
		}
	}

	r.assignColors(calendars)
	r.logger.Debug("calendar discovery complete", "calendars", len(calendars))
	return calendars, nil
}

// listCalendars runs a depth-1 PROPFIND and keeps only calendar collections,
// in the order the server returned them.
func (r *Registry) listCalendars(ctx context.Context, wrapper httpclient.HttpClientWrapper, root string) ([]caldav.Calendar, error) {
	ms, err := wrapper.DoPROPFIND(ctx, root, 1, calendarProps...)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrInvalidConfiguration, err)
	}

	var calendars []caldav.Calendar
	for _, href := range ms.Hrefs {
		res, err := ms.Get(href)
		if err != nil {
			r.logger.Debug("skipping unreadable resource", "href", href, "error", err)
			continue
		}
		if !res.IsCalendar {
			continue
		}
		name := res.DisplayName
		if name == "" {
			name = pathLeaf(href)
		}
		calendars = append(calendars, caldav.Calendar{
			Name:     name,
			URL:      absoluteURL(base, href),
			Color:    normalizeColor(res.Color),
			Visible:  true,
			ReadOnly: res.HasPrivilegeSet && !res.CanWrite,
			CTag:     res.CTag,
		})
	}
	return calendars, nil
}

// chaseCalendarHome resolves the calendar home the DAV way: ask the server
// root for current-user-principal, then ask the principal for its
// calendar-home-set.
func (r *Registry) chaseCalendarHome(ctx context.Context, wrapper httpclient.HttpClientWrapper, baseURL string) (string, error) {
	ms, err := wrapper.DoPROPFIND(ctx, baseURL, 0, "current-user-principal")
	if err != nil {
		return "", err
	}
	res, ok := ms.First(func(res davxml.Resource) bool { return res.CurrentUserPrincipal != "" })
	if !ok {
		return "", fmt.Errorf("%w: server reported no current-user-principal", caldav.ErrUnsupportedServer)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", caldav.ErrInvalidConfiguration, err)
	}
	principal := absoluteURL(base, res.CurrentUserPrincipal)
	r.logger.Debug("resolved principal", "principal", principal)

	ms, err = wrapper.DoPROPFIND(ctx, principal, 0, "calendar-home-set")
	if err != nil {
		return "", err
	}
	res, ok = ms.First(func(res davxml.Resource) bool { return res.CalendarHomeSet != "" })
	if !ok {
		return "", fmt.Errorf("%w: principal reported no calendar-home-set", caldav.ErrUnsupportedServer)
	}

	principalURL, err := url.Parse(principal)
	if err != nil {
		return "", fmt.Errorf("%w: %v", caldav.ErrInvalidConfiguration, err)
	}
	home := absoluteURL(principalURL, res.CalendarHomeSet)
	r.logger.Debug("resolved calendar home", "home", home)
	return home, nil
}

// assignColors fills in a palette color for every calendar the server did not
// color itself. A calendar URL keeps its slot across repeated discoveries.
func (r *Registry) assignColors(calendars []caldav.Calendar) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range calendars {
		if calendars[i].Color != "" {
			continue
		}
		color, ok := r.colorByURL[calendars[i].URL]
		if !ok {
			color = defaultPalette[r.nextSlot%len(defaultPalette)]
			r.nextSlot++
			r.colorByURL[calendars[i].URL] = color
		}
		calendars[i].Color = color
	}
}

// ApplyPreferences overlays stored preferences: color overrides beat both
// server and palette colors, and an explicit calendar selection hides
// everything outside it. An empty selection leaves all calendars visible.
func ApplyPreferences(calendars []caldav.Calendar, prefs caldav.Preferences) []caldav.Calendar {
	selected := make(map[string]bool, len(prefs.SelectedCalendarURLs))
	for _, u := range prefs.SelectedCalendarURLs {
		selected[u] = true
	}

	out := make([]caldav.Calendar, len(calendars))
	copy(out, calendars)
	for i := range out {
		if c, ok := prefs.ColorOverrides[out[i].URL]; ok && c != "" {
			out[i].Color = c
		}
		if len(selected) > 0 {
			out[i].Visible = selected[out[i].URL]
		}
	}
	return out
}

// normalizeColor strips the alpha channel some servers append (#RRGGBBAA).
func normalizeColor(color string) string {
	color = strings.TrimSpace(color)
	if len(color) == 9 && strings.HasPrefix(color, "#") {
		return color[:7]
	}
	return color
}

func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func pathLeaf(href string) string {
	trimmed := strings.TrimRight(href, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
