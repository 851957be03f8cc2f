package ical

import (
	"fmt"
	"sort"
	"time"

	goical "github.com/emersion/go-ical"
)

// Observance is one STANDARD or DAYLIGHT sub-component of a VTIMEZONE.
type Observance struct {
	IsDaylight bool
	Start      time.Time // DTSTART, floating local time of first onset
	OffsetFrom time.Duration
	OffsetTo   time.Duration
	RRule      *RRule
	RDates     []time.Time
	TZName     string
}

// Timezone is the parsed form of a VTIMEZONE component: enough to
// resolve, for any local timestamp, which observance is in effect and
// what its UTC offset is.
type Timezone struct {
	TZID        string
	Observances []Observance
}

// ParseVTimezone extracts the recurrence rules and offsets from a VTIMEZONE
// component, per RFC 5545 §3.6.5.
func ParseVTimezone(comp *goical.Component) (*Timezone, error) {
	if comp.Name != "VTIMEZONE" {
		return nil, fmt.Errorf("ical: not a VTIMEZONE component")
	}
	tzidProp := comp.Props.Get("TZID")
	if tzidProp == nil {
		return nil, fmt.Errorf("ical: VTIMEZONE missing TZID")
	}
	tz := &Timezone{TZID: tzidProp.Value}

	for _, sub := range comp.Children {
		var obs Observance
		switch sub.Name {
		case "STANDARD":
			obs.IsDaylight = false
		case "DAYLIGHT":
			obs.IsDaylight = true
		default:
			continue
		}

		dtstart := sub.Props.Get("DTSTART")
		if dtstart == nil {
			continue
		}
		start, err := ParseDateTime(dtstart.Value + "Z")
		if err != nil {
			start, err = time.ParseInLocation("20060102T150405", dtstart.Value, time.UTC)
			if err != nil {
				continue
			}
		}
		obs.Start = start

		if p := sub.Props.Get("TZOFFSETFROM"); p != nil {
			d, err := ParseUTCOffset(p.Value)
			if err == nil {
				obs.OffsetFrom = d
			}
		}
		if p := sub.Props.Get("TZOFFSETTO"); p != nil {
			d, err := ParseUTCOffset(p.Value)
			if err == nil {
				obs.OffsetTo = d
			}
		}
		if p := sub.Props.Get("TZNAME"); p != nil {
			obs.TZName = p.Value
		}
		if p := sub.Props.Get("RRULE"); p != nil {
			rr, err := ParseRRule(p.Value)
			if err == nil {
				obs.RRule = rr
			}
		}
		for _, p := range sub.Props.Values("RDATE") {
			v, err := ResolveListValue("RDATE", p.Params.Get("VALUE"), p.Value)
			if err == nil {
				obs.RDates = append(obs.RDates, v.DateTimes...)
			}
		}

		tz.Observances = append(tz.Observances, obs)
	}

	if len(tz.Observances) == 0 {
		return nil, fmt.Errorf("ical: VTIMEZONE %s has no observances", tz.TZID)
	}
	return tz, nil
}

// transition is a single onset instant (floating local time) at which the
// given offset and abbreviation take effect.
type transition struct {
	at       time.Time
	offsetTo time.Duration
	name     string
}

// transitionsUpTo generates every onset for obs at or before limit, bounded
// generously so unbounded (no COUNT/UNTIL) RRULEs still terminate.
func (o Observance) transitionsUpTo(limit time.Time) []transition {
	var out []transition
	add := func(t time.Time) {
		out = append(out, transition{at: t, offsetTo: o.OffsetTo, name: o.TZName})
	}

	if o.RRule == nil && len(o.RDates) == 0 {
		add(o.Start)
		return out
	}

	if o.RRule != nil {
		lib, err := o.RRule.toLibRRule(o.Start)
		if err == nil {
			// rrule-go generates in the rule's own local calendar; bound the
			// window generously past limit to ensure the last relevant
			// transition before limit is captured even with yearly rules.
			until := limit.AddDate(1, 0, 0)
			for _, t := range lib.Between(o.Start.AddDate(-1, 0, 0), until, true) {
				if !t.After(limit) {
					add(t)
				}
			}
		}
	}
	for _, t := range o.RDates {
		if !t.After(limit) {
			add(t)
		}
	}
	return out
}

// OffsetAt returns the UTC offset and abbreviation in effect at the given
// floating local timestamp (interpreted in this timezone), by finding the
// most recent onset across all observances at or before local.
func (tz *Timezone) OffsetAt(local time.Time) (time.Duration, string, error) {
	var best *transition
	for _, obs := range tz.Observances {
		for _, t := range obs.transitionsUpTo(local) {
			t := t
			if best == nil || t.at.After(best.at) {
				best = &t
			}
		}
	}
	if best == nil {
		// No onset at or before local: fall back to the earliest observance's
		// OffsetFrom, the period in effect before any recorded transition.
		earliest := tz.Observances[0]
		for _, obs := range tz.Observances[1:] {
			if obs.Start.Before(earliest.Start) {
				earliest = obs
			}
		}
		return earliest.OffsetFrom, "", nil
	}
	return best.offsetTo, best.name, nil
}

// ToUTC converts a floating local timestamp in this timezone to UTC.
func (tz *Timezone) ToUTC(local time.Time) (time.Time, error) {
	off, _, err := tz.OffsetAt(local)
	if err != nil {
		return time.Time{}, err
	}
	return local.Add(-off).UTC(), nil
}

// FromUTC converts a UTC instant to this timezone's floating local time.
// Offset rules are themselves expressed in local time, so this resolves by
// a fixed-point step: apply the current best-guess offset, then re-check
// which observance is in effect at the resulting local time and repeat
// until it stabilizes (at most a handful of iterations near a transition).
func (tz *Timezone) FromUTC(utc time.Time) (time.Time, error) {
	guess := utc
	for i := 0; i < 4; i++ {
		off, _, err := tz.OffsetAt(guess)
		if err != nil {
			return time.Time{}, err
		}
		next := utc.Add(off)
		if next.Equal(guess) {
			return next, nil
		}
		guess = next
	}
	return guess, nil
}

// sortTransitions is a test/debug helper kept for deterministic ordering
// when inspecting an observance's generated onset list.
func sortTransitions(ts []transition) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].at.Before(ts[j].at) })
}
