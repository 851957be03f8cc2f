package common

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/propres"
)

// PropertySet is one <set>-ed property name/value pair from a PROPPATCH
// body. Only simple text-valued properties are represented; handlers
// that only support a small fixed set of writable properties (displayname,
// calendar-color, addressbook description) don't need anything richer.
type PropertySet struct {
	Name  propres.QName
	Value string
}

// PropertyUpdate is a parsed <propertyupdate> PROPPATCH request body.
type PropertyUpdate struct {
	Set    []PropertySet
	Remove []propres.QName
}

// ParsePropertyUpdate parses a PROPPATCH request body (RFC 4918 §9.2).
func ParsePropertyUpdate(body []byte) (PropertyUpdate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return PropertyUpdate{}, daverr.ValidCalendarData(fmt.Sprintf("malformed PROPPATCH XML: %v", err))
	}
	root := doc.Root()
	if root == nil {
		return PropertyUpdate{}, daverr.ValidCalendarData("empty PROPPATCH body")
	}

	var update PropertyUpdate
	for _, setEl := range root.SelectElements("set") {
		propEl := setEl.SelectElement("prop")
		if propEl == nil {
			continue
		}
		for _, child := range propEl.ChildElements() {
			update.Set = append(update.Set, PropertySet{
				Name:  propres.QName{NS: child.Space, Local: child.Tag},
				Value: strings.TrimSpace(child.Text()),
			})
		}
	}
	for _, removeEl := range root.SelectElements("remove") {
		propEl := removeEl.SelectElement("prop")
		if propEl == nil {
			continue
		}
		for _, child := range propEl.ChildElements() {
			update.Remove = append(update.Remove, propres.QName{NS: child.Space, Local: child.Tag})
		}
	}
	return update, nil
}
