package ical

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RRule is the parsed RFC 5545 §3.3.10 recurrence rule. We keep our own
// struct rather than exposing rrule.RRule directly: the occurrence window
// logic in recurrence.go needs the raw BY-lists (with signed ordinals for
// BYDAY) in declaration order to apply them in the RFC-mandated sequence,
// which teambition/rrule-go's generator does not expose once compiled.
type RRule struct {
	Freq       string // SECONDLY|MINUTELY|HOURLY|DAILY|WEEKLY|MONTHLY|YEARLY
	Interval   int
	Count      int  // 0 if unset
	Until      time.Time
	HasUntil   bool
	Wkst       string
	ByMonth    []int
	ByMonthDay []int // may be negative (from end of month)
	ByYearDay  []int
	ByWeekNo   []int
	ByDay      []WeekdayNum
	ByHour     []int
	ByMinute   []int
	BySecond   []int
	BySetPos   []int
}

// WeekdayNum is a BYDAY element: an optional signed ordinal plus a weekday,
// e.g. "-1FR" (last Friday), "2MO" (second Monday), "SU" (every Sunday).
type WeekdayNum struct {
	Ordinal int // 0 means "every occurrence of this weekday in the period"
	Weekday string
}

var weekdayToRRule = map[string]rrule.Weekday{
	"MO": rrule.MO, "TU": rrule.TU, "WE": rrule.WE, "TH": rrule.TH,
	"FR": rrule.FR, "SA": rrule.SA, "SU": rrule.SU,
}

var freqToRRule = map[string]rrule.Frequency{
	"SECONDLY": rrule.SECONDLY,
	"MINUTELY": rrule.MINUTELY,
	"HOURLY":   rrule.HOURLY,
	"DAILY":    rrule.DAILY,
	"WEEKLY":   rrule.WEEKLY,
	"MONTHLY":  rrule.MONTHLY,
	"YEARLY":   rrule.YEARLY,
}

// ParseRRule parses an RRULE/EXRULE value string ("FREQ=WEEKLY;COUNT=5;...").
// COUNT and UNTIL are mutually exclusive per RFC 5545 §3.3.10; supplying
// both is a hard parse error rather than a silently-resolved precedence.
func ParseRRule(raw string) (*RRule, error) {
	r := &RRule{Interval: 1, Wkst: "MO"}
	haveCount, haveUntil := false, false

	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("ical: bad RRULE part %q", part)
		}
		key, val := strings.ToUpper(kv[0]), kv[1]
		switch key {
		case "FREQ":
			if _, ok := freqToRRule[strings.ToUpper(val)]; !ok {
				return nil, fmt.Errorf("ical: unknown FREQ %q", val)
			}
			r.Freq = strings.ToUpper(val)
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("ical: bad INTERVAL %q", val)
			}
			r.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("ical: bad COUNT %q", val)
			}
			r.Count = n
			haveCount = true
		case "UNTIL":
			t, err := parseUntil(val)
			if err != nil {
				return nil, err
			}
			r.Until = t
			r.HasUntil = true
			haveUntil = true
		case "WKST":
			r.Wkst = strings.ToUpper(val)
		case "BYMONTH":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByMonth = ints
		case "BYMONTHDAY":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByMonthDay = ints
		case "BYYEARDAY":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByYearDay = ints
		case "BYWEEKNO":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByWeekNo = ints
		case "BYDAY":
			days, err := parseByDay(val)
			if err != nil {
				return nil, err
			}
			r.ByDay = days
		case "BYHOUR":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByHour = ints
		case "BYMINUTE":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.ByMinute = ints
		case "BYSECOND":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.BySecond = ints
		case "BYSETPOS":
			ints, err := parseIntList(val)
			if err != nil {
				return nil, err
			}
			r.BySetPos = ints
		}
	}

	if r.Freq == "" {
		return nil, fmt.Errorf("ical: RRULE missing FREQ")
	}
	if haveCount && haveUntil {
		return nil, fmt.Errorf("ical: RRULE may not set both COUNT and UNTIL")
	}
	return r, nil
}

func parseUntil(val string) (time.Time, error) {
	if strings.HasSuffix(val, "Z") {
		return time.Parse("20060102T150405Z", val)
	}
	if len(val) == 8 {
		return time.ParseInLocation("20060102", val, time.UTC)
	}
	return time.ParseInLocation("20060102T150405", val, time.UTC)
}

func parseIntList(val string) ([]int, error) {
	fields := strings.Split(val, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("ical: bad integer list element %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseByDay(val string) ([]WeekdayNum, error) {
	fields := strings.Split(val, ",")
	out := make([]WeekdayNum, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) < 2 {
			return nil, fmt.Errorf("ical: bad BYDAY element %q", f)
		}
		wd := f[len(f)-2:]
		if _, ok := weekdayToRRule[wd]; !ok {
			return nil, fmt.Errorf("ical: bad BYDAY weekday %q", f)
		}
		ordPart := f[:len(f)-2]
		ord := 0
		if ordPart != "" {
			n, err := strconv.Atoi(ordPart)
			if err != nil {
				return nil, fmt.Errorf("ical: bad BYDAY ordinal %q", f)
			}
			ord = n
		}
		out = append(out, WeekdayNum{Ordinal: ord, Weekday: wd})
	}
	return out, nil
}

// String renders the rule back to RRULE value text.
func (r *RRule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FREQ=%s", r.Freq)
	if r.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", r.Interval)
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, ";COUNT=%d", r.Count)
	}
	if r.HasUntil {
		fmt.Fprintf(&b, ";UNTIL=%s", r.Until.UTC().Format("20060102T150405Z"))
	}
	writeInts(&b, "BYMONTH", r.ByMonth)
	writeInts(&b, "BYMONTHDAY", r.ByMonthDay)
	writeInts(&b, "BYYEARDAY", r.ByYearDay)
	writeInts(&b, "BYWEEKNO", r.ByWeekNo)
	if len(r.ByDay) > 0 {
		parts := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			if d.Ordinal != 0 {
				parts[i] = fmt.Sprintf("%d%s", d.Ordinal, d.Weekday)
			} else {
				parts[i] = d.Weekday
			}
		}
		fmt.Fprintf(&b, ";BYDAY=%s", strings.Join(parts, ","))
	}
	writeInts(&b, "BYHOUR", r.ByHour)
	writeInts(&b, "BYMINUTE", r.ByMinute)
	writeInts(&b, "BYSECOND", r.BySecond)
	writeInts(&b, "BYSETPOS", r.BySetPos)
	if r.Wkst != "" && r.Wkst != "MO" {
		fmt.Fprintf(&b, ";WKST=%s", r.Wkst)
	}
	return b.String()
}

func writeInts(b *strings.Builder, key string, vals []int) {
	if len(vals) == 0 {
		return
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	fmt.Fprintf(b, ";%s=%s", key, strings.Join(parts, ","))
}

// toLibRRule builds a teambition/rrule-go rule seeded at dtstart. Its only
// caller is vtimezone.go, which uses it to generate STANDARD/DAYLIGHT
// transition onsets; recurrence.go's Expand does not use it and generates
// occurrences with its own period/BY-rule logic.
func (r *RRule) toLibRRule(dtstart time.Time) (*rrule.RRule, error) {
	freq, ok := freqToRRule[r.Freq]
	if !ok {
		return nil, fmt.Errorf("ical: unknown FREQ %q", r.Freq)
	}
	opts := rrule.ROption{
		Freq:     freq,
		Interval: r.Interval,
		Dtstart:  dtstart,
	}
	if r.Count > 0 {
		opts.Count = r.Count
	}
	if r.HasUntil {
		opts.Until = r.Until
	}
	if wd, ok := weekdayToRRule[r.Wkst]; ok {
		opts.Wkst = wd
	}
	opts.Bymonth = r.ByMonth
	opts.Bymonthday = r.ByMonthDay
	opts.Byyearday = r.ByYearDay
	opts.Byweekno = r.ByWeekNo
	opts.Byhour = r.ByHour
	opts.Byminute = r.ByMinute
	opts.Bysecond = r.BySecond
	opts.Bysetpos = r.BySetPos
	for _, d := range r.ByDay {
		wd, ok := weekdayToRRule[d.Weekday]
		if !ok {
			continue
		}
		if d.Ordinal != 0 {
			opts.Byweekday = append(opts.Byweekday, wd.Nth(d.Ordinal))
		} else {
			opts.Byweekday = append(opts.Byweekday, wd)
		}
	}
	return rrule.NewRRule(opts)
}
