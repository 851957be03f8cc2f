package ical

import (
	"fmt"
	"time"

	goical "github.com/emersion/go-ical"
)

// Interval is a half-open [S, E) UTC time span, used for merging busy
// periods when answering free-busy-query REPORTs.
type Interval struct{ S, E time.Time }

// EnsureDTStamp adds a DTSTAMP to every VEVENT/VTODO/VJOURNAL missing one,
// as required before an object is ever handed back over GET. Returns the
// possibly-modified bytes and whether a change was made.
func EnsureDTStamp(data []byte) ([]byte, bool) {
	cal, err := Decode(data)
	if err != nil {
		return data, false
	}
	modified := false
	for _, child := range cal.Children {
		switch child.Name {
		case goical.CompEvent, goical.CompToDo, goical.CompJournal:
			if child.Props.Get(goical.PropDateTimeStamp) == nil {
				prop := goical.NewProp(goical.PropDateTimeStamp)
				prop.SetDateTime(time.Now().UTC())
				child.Props.Set(prop)
				modified = true
			}
		}
	}
	if !modified {
		return data, false
	}
	out, err := Encode(cal)
	if err != nil {
		return data, false
	}
	return out, true
}

// BuildFreeBusyICS renders a VFREEBUSY reply for the given window and merged
// busy intervals, per RFC 4791 §7.10.
func BuildFreeBusyICS(start, end time.Time, busy []Interval, prodID string) []byte {
	cal := &goical.Calendar{Component: &goical.Component{Name: goical.CompCalendar, Props: goical.Props{}}}
	cal.Props.SetText(goical.PropProductID, prodID)
	cal.Props.SetText(goical.PropVersion, "2.0")

	vfb := &goical.Component{Name: goical.CompFreeBusy, Props: goical.Props{}}
	vfb.Props.SetText(goical.PropUID, fmt.Sprintf("freebusy-%d@davcore", time.Now().UnixNano()))
	vfb.Props.SetDateTime(goical.PropDateTimeStamp, time.Now().UTC())
	vfb.Props.SetDateTime(goical.PropDateTimeStart, start.UTC())
	vfb.Props.SetDateTime(goical.PropDateTimeEnd, end.UTC())

	for _, iv := range busy {
		prop := goical.NewProp(goical.PropFreeBusy)
		prop.Params.Set("FBTYPE", "BUSY")
		prop.Value = fmt.Sprintf("%s/%s", formatUTC(iv.S), formatUTC(iv.E))
		vfb.Props.Add(prop)
	}
	cal.Children = []*goical.Component{vfb}

	out, err := Encode(cal)
	if err != nil {
		return nil
	}
	return out
}

// MergeIntervals coalesces overlapping/adjacent intervals in ascending order.
func MergeIntervals(in []Interval) []Interval {
	if len(in) <= 1 {
		return in
	}
	for i := 1; i < len(in); i++ {
		j := i
		for j > 0 && in[j-1].S.After(in[j].S) {
			in[j-1], in[j] = in[j], in[j-1]
			j--
		}
	}
	out := []Interval{in[0]}
	for i := 1; i < len(in); i++ {
		last := &out[len(out)-1]
		if in[i].S.After(last.E) {
			out = append(out, in[i])
		} else if in[i].E.After(last.E) {
			last.E = in[i].E
		}
	}
	return out
}

func formatUTC(t time.Time) string { return t.UTC().Format("20060102T150405Z") }
