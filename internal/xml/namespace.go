// Package xml builds the WebDAV/CalDAV request bodies and parses
// multistatus responses.
package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// AppleICal is the Apple iCal namespace carrying calendar-color
	AppleICal = "http://apple.com/ns/ical/"
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = "http://calendarserver.org/ns/"
)

// Prefixes used when serializing requests.
var nsPrefix = map[string]string{
	DAV:            "d",
	CalDAV:         "c",
	AppleICal:      "a",
	CalendarServer: "cs",
}

// propNamespaces maps requestable property names to their namespace.
var propNamespaces = map[string]string{
	"resourcetype":                     DAV,
	"displayname":                      DAV,
	"getetag":                          DAV,
	"sync-token":                       DAV,
	"current-user-principal":           DAV,
	"current-user-privilege-set":       DAV,
	"calendar-home-set":                CalDAV,
	"calendar-timezone":                CalDAV,
	"supported-calendar-component-set": CalDAV,
	"calendar-data":                    CalDAV,
	"calendar-color":                   AppleICal,
	"getctag":                          CalendarServer,
}

// addNamespaces declares the given namespaces on the root element.
func addNamespaces(root *etree.Element, namespaces ...string) {
	for _, ns := range namespaces {
		root.CreateAttr("xmlns:"+nsPrefix[ns], ns)
	}
}

// createElement creates a child element with the prefix belonging to ns.
func createElement(parent *etree.Element, ns, tag string) *etree.Element {
	return parent.CreateElement(nsPrefix[ns] + ":" + tag)
}

// findChild returns the first child element with the given local tag,
// ignoring the namespace prefix servers happen to use.
func findChild(e *etree.Element, tag string) *etree.Element {
	for _, c := range e.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// findChildren returns all child elements with the given local tag.
func findChildren(e *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}
