package ical

import (
	"sort"
	"time"
)

// DefaultMaxInstances bounds how many occurrences a single expansion will
// ever produce, guarding against pathological or malicious RRULEs.
const DefaultMaxInstances = 10000

// RecurrenceSet is the normalized input to the expander: a seed DTSTART
// plus optional RRULE/RDATE/EXDATE modifiers.
type RecurrenceSet struct {
	DTStart      time.Time // already resolved to UTC
	Duration     time.Duration
	RRule        *RRule
	RDates       []time.Time // UTC
	ExDates      []time.Time // UTC
	MaxInstances int
}

// Occurrence is one expanded instance: its UTC start/end and the
// RECURRENCE-ID that identifies it (its own start, set on every occurrence
// including the master).
type Occurrence struct {
	Start        time.Time
	End          time.Time
	RecurrenceID time.Time
	IsMaster     bool
}

// Expand enumerates occurrences of rs that fall within [rangeStart, rangeEnd).
// A zero rangeStart/rangeEnd means unbounded on that side.
func Expand(rs RecurrenceSet, rangeStart, rangeEnd time.Time) []Occurrence {
	max := rs.MaxInstances
	if max <= 0 || max > DefaultMaxInstances {
		max = DefaultMaxInstances
	}

	excluded := make(map[int64]bool, len(rs.ExDates))
	for _, t := range rs.ExDates {
		excluded[t.Unix()] = true
	}

	starts := []time.Time{rs.DTStart}
	if rs.RRule != nil {
		starts = append(starts, generateRRuleStarts(rs.DTStart, rs.RRule, rangeEnd, max)...)
	}
	starts = append(starts, rs.RDates...)

	seen := make(map[int64]bool, len(starts))
	var out []Occurrence
	for i, t := range starts {
		key := t.Unix()
		if excluded[key] || seen[key] {
			continue
		}
		seen[key] = true

		end := t.Add(rs.Duration)
		if !rangeEnd.IsZero() && !t.Before(rangeEnd) {
			continue
		}
		if !rangeStart.IsZero() && !end.After(rangeStart) {
			continue
		}
		out = append(out, Occurrence{
			Start:        t,
			End:          end,
			RecurrenceID: t,
			IsMaster:     i == 0 && t.Equal(rs.DTStart),
		})
		if len(out) >= max {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// generateRRuleStarts performs FREQ×INTERVAL period advancement from
// DTSTART, with BY-rules applied in the order BYMONTH → BYMONTHDAY →
// BYDAY → BYHOUR → BYMINUTE → BYSECOND → BYSETPOS within each period.
// BYMONTH is applied only under FREQ=YEARLY, BYMONTHDAY only under
// MONTHLY/YEARLY, and BYDAY only under WEEKLY/MONTHLY/YEARLY; under other
// frequencies those lists are ignored. BYYEARDAY and BYWEEKNO are parsed
// but never applied.
func generateRRuleStarts(dtstart time.Time, r *RRule, rangeEnd time.Time, max int) []time.Time {
	limit := r.Until
	hasLimit := r.HasUntil
	if !rangeEnd.IsZero() && (!hasLimit || rangeEnd.Before(limit)) {
		limit = rangeEnd
		hasLimit = true
	}

	var results []time.Time
	count := 0
	periodStart := truncateToPeriod(dtstart, r.Freq)

	for iter := 0; iter < max*4 && len(results) < max; iter++ {
		if r.Count > 0 && count >= r.Count {
			break
		}
		candidates := candidatesInPeriod(periodStart, dtstart, r)
		candidates = applyBySetPos(candidates, r.BySetPos)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

		for _, c := range candidates {
			if c.Before(dtstart) {
				continue
			}
			if hasLimit && c.After(limit) {
				periodStart = time.Time{} // signal to stop outer loop
				break
			}
			if r.Count > 0 && count >= r.Count {
				break
			}
			results = append(results, c)
			count++
			if len(results) >= max {
				break
			}
		}
		if periodStart.IsZero() {
			break
		}
		periodStart = advancePeriod(periodStart, r.Freq, r.Interval)
		if hasLimit && periodStart.After(limit.AddDate(1, 1, 1)) {
			break
		}
	}
	return results
}

func truncateToPeriod(t time.Time, freq string) time.Time {
	switch freq {
	case "YEARLY":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	case "MONTHLY":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case "WEEKLY":
		offset := int(t.Weekday()) - 1 // week starts Monday
		if offset < 0 {
			offset = 6
		}
		d := t.AddDate(0, 0, -offset)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
	case "DAILY":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

// addMonthsClamped adds n months to t, clamping the day to the resulting
// month's maximum day rather than overflowing into the following month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, _ := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	m = time.Month(total%12 + 1)
	if m <= 0 {
		m += 12
		y--
	}
	last := lastDayOfMonth(y, m)
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}

func lastDayOfMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func advancePeriod(periodStart time.Time, freq string, interval int) time.Time {
	switch freq {
	case "YEARLY":
		return periodStart.AddDate(interval, 0, 0)
	case "MONTHLY":
		return addMonthsClamped(periodStart, interval)
	case "WEEKLY":
		return periodStart.AddDate(0, 0, 7*interval)
	case "DAILY":
		return periodStart.AddDate(0, 0, interval)
	case "HOURLY":
		return periodStart.Add(time.Duration(interval) * time.Hour)
	case "MINUTELY":
		return periodStart.Add(time.Duration(interval) * time.Minute)
	case "SECONDLY":
		return periodStart.Add(time.Duration(interval) * time.Second)
	default:
		return periodStart
	}
}

// candidatesInPeriod generates every candidate instant within the period
// starting at periodStart, applying BYMONTH, BYMONTHDAY, BYDAY, BYHOUR,
// BYMINUTE, BYSECOND in that order (within the limits listed on
// generateRRuleStarts). dtstart supplies the default month, time-of-day
// and day-of-week/month when a given BY-rule is absent.
func candidatesInPeriod(periodStart, dtstart time.Time, r *RRule) []time.Time {
	months := []time.Month{dtstart.Month()}
	if len(r.ByMonth) > 0 && r.Freq == "YEARLY" {
		months = months[:0]
		for _, m := range r.ByMonth {
			months = append(months, time.Month(m))
		}
	}

	var days []time.Time
	for _, mon := range months {
		base := periodStart
		if r.Freq == "YEARLY" {
			base = time.Date(periodStart.Year(), mon, 1, 0, 0, 0, 0, periodStart.Location())
		}
		days = append(days, daysForMonthOrWeekOrDay(base, dtstart, r)...)
	}

	var withTime []time.Time
	for _, d := range days {
		withTime = append(withTime, expandTimeOfDay(d, dtstart, r)...)
	}
	return withTime
}

// daysForMonthOrWeekOrDay resolves BYMONTHDAY/BYDAY (date-level BY-rules)
// for the period containing base, per the FREQ in effect.
func daysForMonthOrWeekOrDay(base, dtstart time.Time, r *RRule) []time.Time {
	switch r.Freq {
	case "YEARLY", "MONTHLY":
		return monthDays(base, dtstart, r)
	case "WEEKLY":
		return weekDays(base, dtstart, r)
	default:
		return []time.Time{base}
	}
}

func monthDays(monthStart, dtstart time.Time, r *RRule) []time.Time {
	last := lastDayOfMonth(monthStart.Year(), monthStart.Month())
	dayMatches := map[int]bool{}
	haveMonthDay := len(r.ByMonthDay) > 0
	if haveMonthDay {
		for _, md := range r.ByMonthDay {
			d := md
			if d < 0 {
				d = last + d + 1
			}
			if d >= 1 && d <= last {
				dayMatches[d] = true
			}
		}
	}

	var out []time.Time
	if len(r.ByDay) > 0 {
		for day := 1; day <= last; day++ {
			t := time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, monthStart.Location())
			if !matchesByDayInMonth(t, r.ByDay, last) {
				continue
			}
			if haveMonthDay && !dayMatches[day] {
				continue
			}
			out = append(out, t)
		}
		return out
	}

	if haveMonthDay {
		for day := range dayMatches {
			out = append(out, time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, monthStart.Location()))
		}
		return out
	}

	// Neither BYMONTHDAY nor BYDAY: default to DTSTART's day-of-month,
	// clamped if this month is shorter.
	day := dtstart.Day()
	if day > last {
		day = last
	}
	out = append(out, time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, monthStart.Location()))
	return out
}

// matchesByDayInMonth implements BYDAY ordinal matching for MONTHLY/YEARLY
// rules: "2MO" is the 2nd Monday of the month, "-1FR" the last Friday.
func matchesByDayInMonth(t time.Time, byday []WeekdayNum, lastDayOfMon int) bool {
	for _, wd := range byday {
		if weekdayName(t.Weekday()) != wd.Weekday {
			continue
		}
		if wd.Ordinal == 0 {
			return true
		}
		if wd.Ordinal > 0 {
			nth := (t.Day()-1)/7 + 1
			if nth == wd.Ordinal {
				return true
			}
		} else {
			fromEnd := (lastDayOfMon-t.Day())/7 + 1
			if fromEnd == -wd.Ordinal {
				return true
			}
		}
	}
	return false
}

func weekDays(weekStart, dtstart time.Time, r *RRule) []time.Time {
	if len(r.ByDay) == 0 {
		return []time.Time{weekStart.AddDate(0, 0, int(dtstart.Weekday())-int(weekStart.Weekday()))}
	}
	var out []time.Time
	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i)
		for _, wd := range r.ByDay {
			if weekdayName(d.Weekday()) == wd.Weekday {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func weekdayName(w time.Weekday) string {
	names := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}
	return names[int(w)]
}

// expandTimeOfDay applies BYHOUR/BYMINUTE/BYSECOND, defaulting any absent
// one to DTSTART's own hour/minute/second.
func expandTimeOfDay(day, dtstart time.Time, r *RRule) []time.Time {
	hours := []int{dtstart.Hour()}
	if len(r.ByHour) > 0 {
		hours = r.ByHour
	}
	minutes := []int{dtstart.Minute()}
	if len(r.ByMinute) > 0 {
		minutes = r.ByMinute
	}
	seconds := []int{dtstart.Second()}
	if len(r.BySecond) > 0 {
		seconds = r.BySecond
	}

	var out []time.Time
	for _, h := range hours {
		for _, m := range minutes {
			for _, s := range seconds {
				out = append(out, time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location()))
			}
		}
	}
	return out
}

// applyBySetPos selects elements from candidates by 1-based position,
// negative positions counting from the end.
func applyBySetPos(candidates []time.Time, setpos []int) []time.Time {
	if len(setpos) == 0 {
		return candidates
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	n := len(candidates)
	var out []time.Time
	seen := map[int]bool{}
	for _, p := range setpos {
		idx := p
		if idx < 0 {
			idx = n + idx + 1
		}
		if idx < 1 || idx > n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, candidates[idx-1])
	}
	return out
}
