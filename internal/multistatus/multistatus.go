// Package multistatus implements the multistatus response builder:
// composing 207 responses with per-href propstat groups, using
// github.com/beevik/etree to assemble well-formed XML around the opaque
// property fragments produced upstream (propres, acl).
package multistatus

import (
	"github.com/beevik/etree"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/propres"
)

const (
	nsDAV     = "DAV:"
	nsCalDAV  = "urn:ietf:params:xml:ns:caldav"
	nsCardDAV = "urn:ietf:params:xml:ns:carddav"
)

// PropstatGroup is one (status, properties) group within a response.
type PropstatGroup struct {
	Status int
	Props  map[propres.QName]propres.PropValue
	Names  []propres.QName // used for propname / not_found groups: no values needed
}

// Response is either a Propstat response (named properties, grouped by
// status) or a Bare response (status only, e.g. tombstone 404s).
type Response struct {
	Href       string
	Propstats  []PropstatGroup
	BareStatus int // non-zero selects the Bare variant
}

// Multistatus is the full 207 response body.
type Multistatus struct {
	Responses []Response
	SyncToken string // rendered only if non-empty
}

// Build renders a Multistatus to its <D:multistatus> XML document.
func Build(ms Multistatus) (string, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("D:multistatus")
	root.CreateAttr("xmlns:D", nsDAV)
	root.CreateAttr("xmlns:C", nsCalDAV)
	root.CreateAttr("xmlns:CARD", nsCardDAV)

	for _, resp := range ms.Responses {
		respEl := root.CreateElement("D:response")
		respEl.CreateElement("D:href").SetText(resp.Href)

		if resp.BareStatus != 0 {
			respEl.CreateElement("D:status").SetText(statusLine(resp.BareStatus))
			continue
		}
		for _, group := range resp.Propstats {
			propstatEl := respEl.CreateElement("D:propstat")
			propEl := propstatEl.CreateElement("D:prop")
			for qn, val := range group.Props {
				appendProp(propEl, qn, val)
			}
			for _, qn := range group.Names {
				propEl.CreateElement(qualifiedTag(qn))
			}
			propstatEl.CreateElement("D:status").SetText(statusLine(group.Status))
		}
	}

	if ms.SyncToken != "" {
		root.CreateElement("D:sync-token").SetText(ms.SyncToken)
	}

	doc.Indent(2)
	return doc.WriteToString()
}

func appendProp(parent *etree.Element, qn propres.QName, val propres.PropValue) {
	el := parent.CreateElement(qualifiedTag(qn))
	switch {
	case val.Empty:
		// no children
	case val.XML != "":
		frag := etree.NewDocument()
		if err := frag.ReadFromString("<root>" + val.XML + "</root>"); err == nil {
			if fr := frag.Root(); fr != nil {
				for _, child := range fr.ChildElements() {
					el.AddChild(child.Copy())
				}
			}
		}
	case val.Href != "":
		el.CreateElement("D:href").SetText(val.Href)
	case len(val.HrefSet) > 0:
		for _, h := range val.HrefSet {
			el.CreateElement("D:href").SetText(h)
		}
	case len(val.ResourceType) > 0:
		for _, rt := range val.ResourceType {
			el.CreateElement(qualifiedTag(rt))
		}
	default:
		el.SetText(val.Text)
	}
}

func qualifiedTag(qn propres.QName) string {
	prefix := "D"
	switch qn.NS {
	case nsCalDAV:
		prefix = "C"
	case nsCardDAV:
		prefix = "CARD"
	}
	return prefix + ":" + qn.Local
}

func statusLine(code int) string {
	return "HTTP/1.1 " + httpStatusText(code)
}

func httpStatusText(code int) string {
	switch code {
	case 200:
		return "200 OK"
	case 201:
		return "201 Created"
	case 207:
		return "207 Multi-Status"
	case 403:
		return "403 Forbidden"
	case 404:
		return "404 Not Found"
	case 409:
		return "409 Conflict"
	case 412:
		return "412 Precondition Failed"
	default:
		return "500 Internal Server Error"
	}
}

// BuildPreconditionBody renders a single typed precondition error as a
// standalone <D:error> document, per RFC 4918 §16.
func BuildPreconditionBody(p *daverr.Precondition) (string, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("D:error")
	root.CreateAttr("xmlns:D", nsDAV)
	root.CreateAttr("xmlns:C", nsCalDAV)
	root.CreateAttr("xmlns:CARD", nsCardDAV)

	prefix := "D"
	switch p.NS {
	case nsCalDAV:
		prefix = "C"
	case nsCardDAV:
		prefix = "CARD"
	}
	el := root.CreateElement(prefix + ":" + p.Element)
	if p.InnerXML != "" {
		frag := etree.NewDocument()
		if err := frag.ReadFromString("<root>" + p.InnerXML + "</root>"); err == nil {
			if fr := frag.Root(); fr != nil {
				for _, child := range fr.ChildElements() {
					el.AddChild(child.Copy())
				}
			}
		}
	}

	doc.Indent(2)
	return doc.WriteToString()
}
