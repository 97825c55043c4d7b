package xml

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// Resource aggregates the properties of one href in a multistatus response.
type Resource struct {
	Href                 string
	IsCalendar           bool
	DisplayName          string
	Color                string
	CTag                 string
	ETag                 string
	CanWrite             bool
	HasPrivilegeSet      bool
	CurrentUserPrincipal string
	CalendarHomeSet      string
	CalendarData         string
}

// ResponseMap maps each href in a multistatus response to its parse result.
// An href whose propstat carries a non-2xx status is kept as an Err so the
// caller can report it without losing the other resources.
type ResponseMap map[string]mo.Result[Resource]

// Multistatus is a parsed 207 response. Hrefs preserves the server-returned
// response order, which callers rely on for stable default color assignment.
type Multistatus struct {
	Hrefs     []string
	Resources ResponseMap
}

// Get returns the resource for an href, unwrapping the parse result.
func (m *Multistatus) Get(href string) (Resource, error) {
	result, ok := m.Resources[href]
	if !ok {
		return Resource{}, fmt.Errorf("no resource for href %q", href)
	}
	return result.Get()
}

// First returns the first resource carrying a given property, as selected by
// pick. Useful for depth-0 responses with a single meaningful href.
func (m *Multistatus) First(pick func(Resource) bool) (Resource, bool) {
	for _, href := range m.Hrefs {
		if res, err := m.Get(href); err == nil && pick(res) {
			return res, true
		}
	}
	return Resource{}, false
}

// ParseMultistatus parses a 207 multistatus body.
func ParseMultistatus(body []byte) (*Multistatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus body: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "multistatus" {
		return nil, fmt.Errorf("response root is not a multistatus element")
	}

	result := &Multistatus{Resources: make(ResponseMap)}
	for _, resp := range findChildren(root, "response") {
		hrefElem := findChild(resp, "href")
		if hrefElem == nil {
			continue
		}
		href := strings.TrimSpace(hrefElem.Text())
		if _, seen := result.Resources[href]; !seen {
			result.Hrefs = append(result.Hrefs, href)
		}

		res, err := parseResponse(resp, href)
		if err != nil {
			result.Resources[href] = mo.Err[Resource](err)
			continue
		}
		result.Resources[href] = mo.Ok(res)
	}

	return result, nil
}

// parseResponse folds all 2xx propstat blocks of one response element into
// a Resource.
func parseResponse(resp *etree.Element, href string) (Resource, error) {
	res := Resource{Href: href}

	found := false
	for _, ps := range findChildren(resp, "propstat") {
		status := ""
		if s := findChild(ps, "status"); s != nil {
			status = s.Text()
		}
		if !strings.Contains(status, "200") {
			continue
		}
		prop := findChild(ps, "prop")
		if prop == nil {
			continue
		}
		found = true
		parseProp(prop, &res)
	}

	if !found {
		return Resource{}, fmt.Errorf("no successful propstat for %s", href)
	}
	return res, nil
}

func parseProp(prop *etree.Element, res *Resource) {
	for _, p := range prop.ChildElements() {
		switch p.Tag {
		case "resourcetype":
			res.IsCalendar = findChild(p, "calendar") != nil
		case "displayname":
			res.DisplayName = strings.TrimSpace(p.Text())
		case "calendar-color":
			// Some servers append an alpha channel (#RRGGBBAA).
			res.Color = strings.TrimSpace(p.Text())
		case "getctag":
			res.CTag = strings.TrimSpace(p.Text())
		case "getetag":
			res.ETag = strings.TrimSpace(p.Text())
		case "calendar-data":
			res.CalendarData = p.Text()
		case "current-user-principal":
			if h := findChild(p, "href"); h != nil {
				res.CurrentUserPrincipal = strings.TrimSpace(h.Text())
			}
		case "calendar-home-set":
			if h := findChild(p, "href"); h != nil {
				res.CalendarHomeSet = strings.TrimSpace(h.Text())
			}
		case "current-user-privilege-set":
			res.HasPrivilegeSet = true
			for _, priv := range findChildren(p, "privilege") {
				if findChild(priv, "write") != nil || findChild(priv, "all") != nil {
					res.CanWrite = true
					break
				}
			}
		}
	}
}
