package ical

import (
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/calstack/davcore/internal/collation"
	"github.com/calstack/davcore/internal/storage"
)

// BuildCalIndex extracts the fields the calendar-query filter engine
// consults from a decoded calendar's top-level component, producing the
// derived, foldable CalIndex projection carried alongside the raw entity.
func BuildCalIndex(entityID string, cal *goical.Calendar) (*storage.CalIndex, error) {
	compName, err := TopLevelComponent(cal)
	if err != nil {
		return nil, err
	}
	comp := FindComponent(cal, compName)

	idx := &storage.CalIndex{
		EntityID:      entityID,
		ComponentType: compName,
	}
	if p := comp.Props.Get("UID"); p != nil {
		idx.UID = p.Value
	}
	if p := comp.Props.Get("STATUS"); p != nil {
		idx.Status = p.Value
	}
	if p := comp.Props.Get("TRANSP"); p != nil {
		idx.Transp = p.Value
	}
	if p := comp.Props.Get("SUMMARY"); p != nil {
		summary := UnescapeText(p.Value)
		idx.Summary = summary
		idx.SummaryAsciiFold = collation.AsciiFold(summary)
		idx.SummaryUnicodeFold = collation.UnicodeFold(summary)
	}
	if p := comp.Props.Get("RRULE"); p != nil {
		idx.RRuleText = p.Value
	}

	start, hasStart := dtBoundary(comp, "DTSTART")
	if hasStart {
		idx.DTStartUTC = &start
	}
	if end, ok := dtBoundary(comp, "DTEND"); ok {
		idx.DTEndUTC = &end
	} else if hasStart {
		if p := comp.Props.Get("DURATION"); p != nil {
			if d, err := ParseDuration(p.Value); err == nil {
				end := start.Add(d)
				idx.DTEndUTC = &end
			}
		}
	}
	return idx, nil
}

// dtBoundary resolves a DTSTART/DTEND-shaped property to a UTC instant.
// The TZID parameter is not consulted: floating, TZID-qualified and
// date-only values are all read as if already UTC, and the filter engine
// compares these stored instants without re-resolving them against a
// VTIMEZONE.
func dtBoundary(comp *goical.Component, name string) (time.Time, bool) {
	p := comp.Props.Get(name)
	if p == nil {
		return time.Time{}, false
	}
	v, err := ResolveValue(name, p.Params.Get("VALUE"), p.Value)
	if err != nil || (v.Kind != KindDateTime && v.Kind != KindDate) {
		return time.Time{}, false
	}
	return v.DateTime.UTC(), true
}
