// Package webdavreport implements the REPORT XML dispatcher: parsing
// the accepted REPORT request bodies and invoking the filter engine,
// sync engine, and property resolver to build the response.
package webdavreport

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/calstack/davcore/internal/collation"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/filter"
	"github.com/calstack/davcore/internal/propres"
)

// ReportKind tags which REPORT root element a request body carried.
type ReportKind int

const (
	ReportCalendarQuery ReportKind = iota
	ReportCalendarMultiget
	ReportAddressbookQuery
	ReportAddressbookMultiget
	ReportSyncCollection
	ReportExpandProperty
)

// Request is the fully parsed form of any accepted REPORT body.
type Request struct {
	Kind ReportKind

	Props    []propres.QName
	AllProp  bool

	Hrefs []string // multiget

	CalendarFilter    *filter.CalendarFilter
	AddressbookFilter *filter.AddressbookFilterRoot

	ExpandStart, ExpandEnd time.Time
	HasExpand              bool

	SyncToken string
	SyncLevel string // "1" | "infinity"

	Limit int // 0 means unbounded

	ExpandProperties []ExpandPropertyNode
}

// ExpandPropertyNode is one <property> element of an expand-property body.
type ExpandPropertyNode struct {
	Name     propres.QName
	Children []ExpandPropertyNode
}

// Parse dispatches on the root element name of an XML REPORT body.
func Parse(body []byte) (*Request, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, daverr.ValidCalendarData(fmt.Sprintf("malformed REPORT XML: %v", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, daverr.ValidCalendarData("empty REPORT body")
	}

	switch root.Tag {
	case "calendar-query":
		return parseCalendarQuery(root)
	case "calendar-multiget":
		return parseMultiget(root, ReportCalendarMultiget)
	case "addressbook-query":
		return parseAddressbookQuery(root)
	case "addressbook-multiget":
		return parseMultiget(root, ReportAddressbookMultiget)
	case "sync-collection":
		return parseSyncCollection(root)
	case "expand-property":
		return parseExpandProperty(root)
	default:
		return nil, daverr.ValidCalendarData("unsupported REPORT root element " + root.Tag)
	}
}

func parseProp(root *etree.Element) ([]propres.QName, bool) {
	propEl := root.SelectElement("prop")
	if propEl == nil {
		if root.SelectElement("allprop") != nil {
			return nil, true
		}
		return nil, false
	}
	var names []propres.QName
	for _, child := range propEl.ChildElements() {
		names = append(names, propres.QName{NS: child.Space, Local: child.Tag})
	}
	return names, false
}

func parseLimit(root *etree.Element) (int, error) {
	limitEl := root.SelectElement("limit")
	if limitEl == nil {
		return 0, nil
	}
	nEl := limitEl.SelectElement("nresults")
	if nEl == nil {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(nEl.Text()), "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("webdavreport: invalid limit/nresults")
	}
	return n, nil
}

func parseTimeRangeAttr(el *etree.Element) (time.Time, time.Time, bool, error) {
	trEl := el.SelectElement("time-range")
	if trEl == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	startAttr := trEl.SelectAttrValue("start", "")
	endAttr := trEl.SelectAttrValue("end", "")
	if startAttr == "" && endAttr == "" {
		return time.Time{}, time.Time{}, false, fmt.Errorf("webdavreport: time-range requires start or end")
	}
	var start, end time.Time
	var err error
	if startAttr != "" {
		start, err = parseUTCDateTime(startAttr)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
	}
	if endAttr != "" {
		end, err = parseUTCDateTime(endAttr)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("webdavreport: time-range end must be after start")
	}
	return start, end, true, nil
}

// parseUTCDateTime rejects RFC 3339 and accepts only the iCalendar
// YYYYMMDDTHHMMSSZ form.
func parseUTCDateTime(s string) (time.Time, error) {
	t, err := time.Parse("20060102T150405Z", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("webdavreport: bad time-range value %q (must be iCalendar UTC DATE-TIME)", s)
	}
	return t, nil
}

func parseCalendarQuery(root *etree.Element) (*Request, error) {
	req := &Request{Kind: ReportCalendarQuery}
	req.Props, req.AllProp = parseProp(root)

	limit, err := parseLimit(root)
	if err != nil {
		return nil, err
	}
	req.Limit = limit

	filterEl := root.SelectElement("filter")
	if filterEl == nil {
		return nil, daverr.ValidCalendarData("calendar-query requires a filter element")
	}
	rootCompEl := filterEl.SelectElement("comp-filter")
	if rootCompEl == nil || rootCompEl.SelectAttrValue("name", "") != "VCALENDAR" {
		return nil, daverr.ValidCalendarData("calendar-query filter must be rooted at comp-filter name=VCALENDAR")
	}
	cf, err := parseCompFilter(rootCompEl)
	if err != nil {
		return nil, err
	}
	req.CalendarFilter = &filter.CalendarFilter{Root: cf}

	if expandEl := root.SelectElement("expand"); expandEl != nil {
		start, err := parseUTCDateTime(expandEl.SelectAttrValue("start", ""))
		if err != nil {
			return nil, err
		}
		end, err := parseUTCDateTime(expandEl.SelectAttrValue("end", ""))
		if err != nil {
			return nil, err
		}
		req.ExpandStart, req.ExpandEnd, req.HasExpand = start, end, true
	}
	return req, nil
}

func parseCompFilter(el *etree.Element) (filter.CompFilter, error) {
	cf := filter.CompFilter{Name: el.SelectAttrValue("name", "")}
	if el.SelectElement("is-not-defined") != nil {
		cf.IsNotDefined = true
	}
	start, end, has, err := parseTimeRangeAttr(el)
	if err != nil {
		return cf, err
	}
	if has {
		cf.TimeRange = &filter.TimeRange{Start: start, End: end}
	}
	for _, pfEl := range el.SelectElements("prop-filter") {
		pf, err := parsePropFilter(pfEl, collation.DefaultForCalDAV)
		if err != nil {
			return cf, err
		}
		cf.PropFilters = append(cf.PropFilters, pf)
	}
	for _, subEl := range el.SelectElements("comp-filter") {
		sub, err := parseCompFilter(subEl)
		if err != nil {
			return cf, err
		}
		cf.CompFilters = append(cf.CompFilters, sub)
	}
	return cf, nil
}

func parsePropFilter(el *etree.Element, defaultCollation collation.Token) (filter.PropFilter, error) {
	pf := filter.PropFilter{Name: el.SelectAttrValue("name", "")}
	if el.SelectElement("is-not-defined") != nil {
		pf.IsNotDefined = true
		return pf, nil
	}
	if tmEl := el.SelectElement("text-match"); tmEl != nil {
		tm, err := parseTextMatch(tmEl, defaultCollation)
		if err != nil {
			return pf, err
		}
		pf.TextMatch = &tm
	}
	if start, end, has, err := parseTimeRangeAttr(el); err != nil {
		return pf, err
	} else if has {
		pf.TimeRange = &filter.TimeRange{Start: start, End: end}
	}
	return pf, nil
}

func parseTextMatch(el *etree.Element, defaultCollation collation.Token) (filter.TextMatch, error) {
	tok := el.SelectAttrValue("collation", string(defaultCollation))
	c, err := collation.ParseToken(tok)
	if err != nil {
		return filter.TextMatch{}, daverr.SupportedCollation(tok, collation.Supported())
	}
	negate := strings.EqualFold(el.SelectAttrValue("negate-condition", "no"), "yes")
	return filter.TextMatch{
		Value:     el.Text(),
		Collation: c,
		MatchType: filter.MatchContains,
		Negate:    negate,
	}, nil
}

func parseMultiget(root *etree.Element, kind ReportKind) (*Request, error) {
	req := &Request{Kind: kind}
	req.Props, req.AllProp = parseProp(root)
	for _, hrefEl := range root.SelectElements("href") {
		req.Hrefs = append(req.Hrefs, strings.TrimSpace(hrefEl.Text()))
	}
	if len(req.Hrefs) == 0 {
		return nil, daverr.ValidCalendarData("multiget requires at least one href")
	}
	return req, nil
}

func parseAddressbookQuery(root *etree.Element) (*Request, error) {
	req := &Request{Kind: ReportAddressbookQuery}
	req.Props, req.AllProp = parseProp(root)

	limit, err := parseLimit(root)
	if err != nil {
		return nil, err
	}
	req.Limit = limit

	filterEl := root.SelectElement("filter")
	if filterEl == nil {
		return nil, daverr.ValidCalendarData("addressbook-query requires a filter element")
	}
	test := filterEl.SelectAttrValue("test", "anyof")
	var pfs []filter.PropFilter
	for _, pfEl := range filterEl.SelectElements("prop-filter") {
		pf, err := parsePropFilter(pfEl, collation.DefaultForCardDAV)
		if err != nil {
			return nil, err
		}
		pfs = append(pfs, pf)
	}
	req.AddressbookFilter = &filter.AddressbookFilterRoot{PropFilters: pfs, Test: test}
	return req, nil
}

func parseSyncCollection(root *etree.Element) (*Request, error) {
	req := &Request{Kind: ReportSyncCollection}
	req.Props, req.AllProp = parseProp(root)

	if tokenEl := root.SelectElement("sync-token"); tokenEl != nil {
		req.SyncToken = strings.TrimSpace(tokenEl.Text())
	}
	req.SyncLevel = "1"
	if levelEl := root.SelectElement("sync-level"); levelEl != nil {
		lvl := strings.TrimSpace(levelEl.Text())
		if lvl != "" {
			req.SyncLevel = lvl
		}
	}
	if req.SyncLevel != "1" && req.SyncLevel != "infinity" {
		return nil, daverr.ValidCalendarData("sync-level must be 1 or infinity")
	}

	limit, err := parseLimit(root)
	if err != nil {
		return nil, err
	}
	req.Limit = limit
	return req, nil
}

func parseExpandProperty(root *etree.Element) (*Request, error) {
	req := &Request{Kind: ReportExpandProperty}
	for _, propEl := range root.SelectElements("property") {
		req.ExpandProperties = append(req.ExpandProperties, parseExpandPropertyNode(propEl))
	}
	return req, nil
}

func parseExpandPropertyNode(el *etree.Element) ExpandPropertyNode {
	node := ExpandPropertyNode{
		Name: propres.QName{NS: el.SelectAttrValue("namespace", "DAV:"), Local: el.SelectAttrValue("name", "")},
	}
	for _, childEl := range el.SelectElements("property") {
		node.Children = append(node.Children, parseExpandPropertyNode(childEl))
	}
	return node
}
