// Package profile resolves a (base URL, server type) pair into the
// calendar-home root used for discovery. Resolution is pure: no network I/O.
package profile

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// Path templates per server flavour. Only the path to the calendar-home
// collection differs between flavours; the protocol itself does not.
var rootTemplates = map[caldav.ServerType]string{
	caldav.ServerNextcloud: "remote.php/dav/calendars/%s/",
	caldav.ServerBaikal:    "cal.php/calendars/%s/",
	caldav.ServerRadicale:  "%s/",
	caldav.ServerGeneric:   "calendars/%s/",
}

// Options control resolution behaviour.
type Options struct {
	// DefaultGeneric maps an unrecognized server type to the generic
	// template instead of failing. Off by default: unknown types fail
	// closed.
	DefaultGeneric bool
}

// Option mutates Options.
type Option func(*Options)

// WithDefaultGeneric makes unrecognized server types resolve as generic.
func WithDefaultGeneric() Option {
	return func(o *Options) { o.DefaultGeneric = true }
}

// Resolve builds the ServerProfile for the given base URL, server type and
// username. It fails with caldav.ErrInvalidConfiguration when the base URL
// is not a well-formed absolute http(s) URL or the server type is unknown.
func Resolve(baseURL string, serverType string, username string, opts ...Option) (caldav.ServerProfile, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	if username == "" {
		return caldav.ServerProfile{}, fmt.Errorf("%w: username is required", caldav.ErrInvalidConfiguration)
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return caldav.ServerProfile{}, fmt.Errorf("%w: base URL %q is not an absolute http(s) URL", caldav.ErrInvalidConfiguration, baseURL)
	}

	st := caldav.ServerType(strings.ToLower(strings.TrimSpace(serverType)))
	tmpl, ok := rootTemplates[st]
	if !ok {
		if !o.DefaultGeneric {
			return caldav.ServerProfile{}, fmt.Errorf("%w: unrecognized server type %q", caldav.ErrInvalidConfiguration, serverType)
		}
		st = caldav.ServerGeneric
		tmpl = rootTemplates[st]
	}

	// Calendar-home collections are directories; the templates keep the
	// trailing slash.
	root := strings.TrimRight(u.String(), "/") + "/" + fmt.Sprintf(tmpl, url.PathEscape(username))

	return caldav.ServerProfile{
		BaseURL:      u.String(),
		Type:         st,
		CalendarRoot: root,
	}, nil
}
