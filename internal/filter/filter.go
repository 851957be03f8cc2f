// Package filter implements the calendar-query/addressbook-query filter
// engine: component/time-range/property filters with text collations,
// evaluated over the derived CalIndex/CardIndex projections. A PropFilter's
// ParamFilters and TimeRange are carried in the parsed tree but are not
// evaluated.
package filter

import (
	"context"
	"strings"
	"time"

	"github.com/calstack/davcore/internal/collation"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/storage"
	"github.com/calstack/davcore/pkg/ical"
)

// MatchType is the text-match operator.
type MatchType string

const (
	MatchEquals     MatchType = "equals"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchEndsWith   MatchType = "ends_with"
)

// TextMatch is a single text-match test.
type TextMatch struct {
	Value     string
	Collation collation.Token
	MatchType MatchType
	Negate    bool
}

// Matches reports whether candidate satisfies tm, under tm's collation.
func (tm TextMatch) Matches(candidate string) bool {
	folded := collation.Fold(tm.Collation, candidate)
	value := collation.Fold(tm.Collation, tm.Value)

	var hit bool
	switch tm.MatchType {
	case MatchEquals:
		hit = folded == value
	case MatchStartsWith:
		hit = strings.HasPrefix(folded, value)
	case MatchEndsWith:
		hit = strings.HasSuffix(folded, value)
	default: // contains
		hit = strings.Contains(folded, value)
	}
	if tm.Negate {
		return !hit
	}
	return hit
}

// ParamFilter is a parsed param-filter over a property's parameter set,
// with Combine naming "allof" or "anyof". The evaluator does not consult
// ParamFilters: the CalIndex/CardIndex projections keep no parameters.
type ParamFilter struct {
	Name         string
	IsNotDefined bool
	Match        *TextMatch
	Combine      string // "allof" | "anyof"
}

// PropFilter evaluates a single property across a component.
type PropFilter struct {
	Name         string
	IsNotDefined bool
	TextMatch    *TextMatch
	TimeRange    *TimeRange
	ParamFilters []ParamFilter
}

// TimeRange bounds a time-range test, in UTC.
type TimeRange struct {
	Start, End time.Time
}

// CompFilter is one node of the CalendarFilter tree.
type CompFilter struct {
	Name         string
	IsNotDefined bool
	TimeRange    *TimeRange
	PropFilters  []PropFilter
	CompFilters  []CompFilter
}

// CalendarFilter wraps the mandatory root VCALENDAR comp-filter.
type CalendarFilter struct {
	Root CompFilter
}

// EvalCalendarQuery evaluates a CalendarFilter against a collection's
// cal_index rows, returning the matching entity IDs.
func EvalCalendarQuery(ctx context.Context, store storage.Store, collectionID string, cf CalendarFilter) ([]string, error) {
	if cf.Root.Name != "VCALENDAR" {
		return nil, daverr.ValidCalendarData("calendar-query filter must be rooted at VCALENDAR")
	}
	var union []string
	seen := map[string]bool{}
	for _, sub := range cf.Root.CompFilters {
		ids, err := evalCompFilter(ctx, store, collectionID, sub)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
	}
	return union, nil
}

func evalCompFilter(ctx context.Context, store storage.Store, collectionID string, cf CompFilter) ([]string, error) {
	rows, err := store.CalIndexByComponent(ctx, collectionID, []string{cf.Name})
	if err != nil {
		return nil, daverr.Storage(err)
	}

	var candidates []*storage.CalIndex
	if cf.IsNotDefined {
		// Presence inversion: entities lacking a component of this name
		// within the collection's full index. We approximate "not defined"
		// over the whole collection's other component types.
		all, err := store.CalIndexByComponent(ctx, collectionID, nil)
		if err != nil {
			return nil, daverr.Storage(err)
		}
		present := map[string]bool{}
		for _, r := range rows {
			present[r.EntityID] = true
		}
		for _, r := range all {
			if !present[r.EntityID] {
				candidates = append(candidates, r)
			}
		}
	} else {
		candidates = rows
	}

	if cf.TimeRange != nil {
		candidates = filterByTimeRange(candidates, *cf.TimeRange)
	}

	for _, pf := range cf.PropFilters {
		candidates = intersectPropFilter(candidates, pf)
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.EntityID)
	}
	return ids, nil
}

// filterByTimeRange implements two-partition time-range evaluation:
// non-recurring entities tested directly against the range, recurring
// entities (rrule_text set) tested by expanding occurrences with a
// 1-second widening at the start boundary.
func filterByTimeRange(rows []*storage.CalIndex, tr TimeRange) []*storage.CalIndex {
	var out []*storage.CalIndex
	for _, r := range rows {
		if r.RRuleText == "" {
			if (r.DTEndUTC == nil || r.DTEndUTC.After(tr.Start)) &&
				(r.DTStartUTC == nil || r.DTStartUTC.Before(tr.End)) {
				out = append(out, r)
			}
			continue
		}
		if r.DTStartUTC == nil {
			continue
		}
		rr, err := ical.ParseRRule(r.RRuleText)
		if err != nil {
			continue
		}
		duration := time.Duration(0)
		if r.DTEndUTC != nil {
			duration = r.DTEndUTC.Sub(*r.DTStartUTC)
		}
		widenedStart := tr.Start.Add(-time.Second)
		occs := ical.Expand(ical.RecurrenceSet{
			DTStart:  *r.DTStartUTC,
			Duration: duration,
			RRule:    rr,
		}, widenedStart, tr.End)
		if len(occs) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func intersectPropFilter(rows []*storage.CalIndex, pf PropFilter) []*storage.CalIndex {
	var out []*storage.CalIndex
	for _, r := range rows {
		if matchesPropFilter(r, pf) {
			out = append(out, r)
		}
	}
	return out
}

func matchesPropFilter(r *storage.CalIndex, pf PropFilter) bool {
	var value string
	var present bool
	switch strings.ToUpper(pf.Name) {
	case "SUMMARY":
		value, present = r.Summary, r.Summary != ""
	case "STATUS":
		value, present = r.Status, r.Status != ""
	case "TRANSP":
		value, present = r.Transp, r.Transp != ""
	case "UID":
		value, present = r.UID, r.UID != ""
	default:
		present = false
	}

	if pf.IsNotDefined {
		return !present
	}
	if !present {
		return false
	}
	if pf.TextMatch != nil && !pf.TextMatch.Matches(value) {
		return false
	}
	return true
}

// AddressbookFilterRoot holds the root-level prop-filters plus the
// test=anyof|allof combinator.
type AddressbookFilterRoot struct {
	PropFilters []PropFilter
	Test        string // "anyof" | "allof", default "anyof"
}

// EvalAddressbookQuery evaluates an addressbook-query filter against a
// collection's card_index rows.
func EvalAddressbookQuery(ctx context.Context, store storage.Store, collectionID string, root AddressbookFilterRoot) ([]string, error) {
	rows, err := store.CardIndexAll(ctx, collectionID)
	if err != nil {
		return nil, daverr.Storage(err)
	}

	test := root.Test
	if test == "" {
		test = "anyof"
	}

	var ids []string
	for _, r := range rows {
		var results []bool
		for _, pf := range root.PropFilters {
			results = append(results, matchesCardPropFilter(r, pf))
		}
		if combine(test, results) {
			ids = append(ids, r.EntityID)
		}
	}
	return ids, nil
}

func combine(test string, results []bool) bool {
	if len(results) == 0 {
		return true
	}
	if test == "allof" {
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	}
	for _, r := range results {
		if r {
			return true
		}
	}
	return false
}

func matchesCardPropFilter(r *storage.CardIndex, pf PropFilter) bool {
	var value string
	var present bool
	switch strings.ToUpper(pf.Name) {
	case "FN":
		value, present = r.FN, r.FN != ""
	case "N":
		value, present = r.N, r.N != ""
	case "ORG":
		value, present = r.Org, r.Org != ""
	case "TITLE":
		value, present = r.Title, r.Title != ""
	case "UID":
		// UID is always compared case-sensitively, regardless of the
		// requested collation.
		if pf.IsNotDefined {
			return r.UID == ""
		}
		if r.UID == "" {
			return false
		}
		if pf.TextMatch != nil {
			m := *pf.TextMatch
			m.Collation = collation.Octet
			return m.Matches(r.UID)
		}
		return true
	case "EMAIL":
		return matchesStringSlice(r.Emails, pf)
	case "TEL":
		return matchesStringSlice(r.Phones, pf)
	default:
		present = false
	}

	if pf.IsNotDefined {
		return !present
	}
	if !present {
		return false
	}
	if pf.TextMatch != nil && !pf.TextMatch.Matches(value) {
		return false
	}
	return true
}

func matchesStringSlice(values []string, pf PropFilter) bool {
	if pf.IsNotDefined {
		return len(values) == 0
	}
	if len(values) == 0 {
		return false
	}
	if pf.TextMatch == nil {
		return true
	}
	for _, v := range values {
		if pf.TextMatch.Matches(v) {
			return true
		}
	}
	return false
}
