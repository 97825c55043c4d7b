package xml

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
)

// icalTimeFormat is the UTC date-time form used in time-range filters.
const icalTimeFormat = "20060102T150405Z"

// Propfind builds a PROPFIND request body asking for the given properties.
// Unknown property names are rejected so typos fail loudly instead of
// silently requesting nothing.
func Propfind(props ...string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("d:propfind")
	addNamespaces(root, DAV, CalDAV, AppleICal, CalendarServer)

	prop := createElement(root, DAV, "prop")
	for _, name := range props {
		ns, ok := propNamespaces[name]
		if !ok {
			return nil, fmt.Errorf("unknown property %q", name)
		}
		createElement(prop, ns, name)
	}

	return doc.WriteToBytes()
}

// CalendarQuery builds a calendar-query REPORT body requesting etags and
// calendar data for VEVENT components intersecting [start, end).
func CalendarQuery(start, end time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("c:calendar-query")
	addNamespaces(root, DAV, CalDAV)

	prop := createElement(root, DAV, "prop")
	createElement(prop, DAV, "getetag")
	createElement(prop, CalDAV, "calendar-data")

	filter := createElement(root, CalDAV, "filter")
	vcal := createElement(filter, CalDAV, "comp-filter")
	vcal.CreateAttr("name", "VCALENDAR")
	vevent := createElement(vcal, CalDAV, "comp-filter")
	vevent.CreateAttr("name", "VEVENT")
	tr := createElement(vevent, CalDAV, "time-range")
	tr.CreateAttr("start", start.UTC().Format(icalTimeFormat))
	tr.CreateAttr("end", end.UTC().Format(icalTimeFormat))

	return doc.WriteToBytes()
}

// CalendarMultiget builds a calendar-multiget REPORT body fetching etags and
// calendar data for the named object hrefs.
func CalendarMultiget(hrefs ...string) ([]byte, error) {
	if len(hrefs) == 0 {
		return nil, fmt.Errorf("multiget needs at least one href")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("c:calendar-multiget")
	addNamespaces(root, DAV, CalDAV)

	prop := createElement(root, DAV, "prop")
	createElement(prop, DAV, "getetag")
	createElement(prop, CalDAV, "calendar-data")

	for _, href := range hrefs {
		createElement(root, DAV, "href").SetText(href)
	}

	return doc.WriteToBytes()
}
