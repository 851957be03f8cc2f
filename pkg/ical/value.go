package ical

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindText ValueKind = iota
	KindDateTime
	KindDate
	KindDateTimeList
	KindDateList
	KindDuration
	KindPeriod
	KindPeriodList
	KindInteger
	KindFloat
	KindBoolean
	KindRecur
	KindUTCOffset
	KindURI
	KindBinary
	KindTime
	KindUnknown
)

// Period is a PERIOD value: either an explicit end or a duration form.
type Period struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
	HasEnd   bool
}

// Value is the tagged union over RFC 5545 typed property values.
type Value struct {
	Kind      ValueKind
	Text      string
	DateTime  time.Time
	DateOnly  bool
	DateTimes []time.Time
	Duration  time.Duration
	Period    Period
	Periods   []Period
	Int       int64
	Float     float64
	Bool      bool
	Recur     *RRule
	UTCOffset time.Duration
	Binary    []byte
	Raw       string
}

// defaultValueType returns the implicit VALUE= for a property when the
// content line carries no explicit VALUE parameter (RFC 5545 §3.3 / the
// per-property defaults table implied by §3.8).
func defaultValueType(propName string) string {
	switch strings.ToUpper(propName) {
	case "DTSTART", "DTEND", "DTSTAMP", "CREATED", "LAST-MODIFIED", "RECURRENCE-ID", "COMPLETED", "ACKNOWLEDGED", "EXDATE", "RDATE":
		return "DATE-TIME"
	case "DUE":
		return "DATE-TIME"
	case "DURATION":
		return "DURATION"
	case "RRULE", "EXRULE":
		return "RECUR"
	case "ATTENDEE", "ORGANIZER":
		return "CAL-ADDRESS"
	case "TZOFFSETFROM", "TZOFFSETTO":
		return "UTC-OFFSET"
	case "FREEBUSY":
		return "PERIOD"
	case "ATTACH":
		return "URI"
	case "PERCENT-COMPLETE", "SEQUENCE", "REPEAT":
		return "INTEGER"
	case "GEO":
		return "FLOAT"
	default:
		return "TEXT"
	}
}

// ResolveValue parses raw according to an explicit VALUE= parameter if given,
// else the property's implicit default type. EXDATE/RDATE disambiguate
// DATE vs DATE-TIME vs PERIOD by shape when no VALUE= is present and are
// handled by ResolveListValue.
func ResolveValue(propName, explicitValueParam, raw string) (Value, error) {
	vt := strings.ToUpper(explicitValueParam)
	if vt == "" {
		vt = defaultValueType(propName)
	}
	switch vt {
	case "DATE-TIME":
		t, err := ParseDateTime(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindDateTime, DateTime: t}, nil
	case "DATE":
		t, err := ParseDate(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindDate, DateTime: t, DateOnly: true}, nil
	case "DURATION":
		d, err := ParseDuration(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindDuration, Duration: d}, nil
	case "PERIOD":
		p, err := ParsePeriod(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindPeriod, Period: p}, nil
	case "RECUR":
		rr, err := ParseRRule(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindRecur, Recur: rr}, nil
	case "UTC-OFFSET":
		d, err := ParseUTCOffset(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUTCOffset, UTCOffset: d}, nil
	case "INTEGER":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("ical: bad INTEGER %q: %w", raw, err)
		}
		return Value{Kind: KindInteger, Int: n}, nil
	case "FLOAT":
		f, err := strconv.ParseFloat(strings.Fields(raw)[0], 64)
		if err != nil {
			return Value{}, fmt.Errorf("ical: bad FLOAT %q: %w", raw, err)
		}
		return Value{Kind: KindFloat, Float: f}, nil
	case "BOOLEAN":
		return Value{Kind: KindBoolean, Bool: strings.EqualFold(raw, "TRUE")}, nil
	case "BINARY":
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Value{}, fmt.Errorf("ical: bad BINARY: %w", err)
		}
		return Value{Kind: KindBinary, Binary: b}, nil
	case "URI", "CAL-ADDRESS":
		return Value{Kind: KindURI, Text: raw}, nil
	case "TIME":
		return Value{Kind: KindTime, Raw: raw}, nil
	default:
		return Value{Kind: KindText, Text: UnescapeText(raw)}, nil
	}
}

// ResolveListValue parses a comma-separated EXDATE/RDATE value list,
// disambiguating DATE vs DATE-TIME vs PERIOD by shape when VALUE= is absent.
func ResolveListValue(propName, explicitValueParam, raw string) (Value, error) {
	vt := strings.ToUpper(explicitValueParam)
	parts := splitUnescaped(raw, ',')
	if vt == "" {
		// Shape-sniff the first element.
		if len(parts) > 0 && strings.Contains(parts[0], "/") {
			vt = "PERIOD"
		} else if len(parts) > 0 && len(strings.TrimSpace(parts[0])) == 8 {
			vt = "DATE"
		} else {
			vt = "DATE-TIME"
		}
	}
	switch vt {
	case "PERIOD":
		var periods []Period
		for _, p := range parts {
			per, err := ParsePeriod(p)
			if err != nil {
				return Value{}, err
			}
			periods = append(periods, per)
		}
		return Value{Kind: KindPeriodList, Periods: periods}, nil
	case "DATE":
		var dates []time.Time
		for _, p := range parts {
			t, err := ParseDate(p)
			if err != nil {
				return Value{}, err
			}
			dates = append(dates, t)
		}
		return Value{Kind: KindDateList, DateTimes: dates, DateOnly: true}, nil
	default:
		var dates []time.Time
		for _, p := range parts {
			t, err := ParseDateTime(p)
			if err != nil {
				return Value{}, err
			}
			dates = append(dates, t)
		}
		return Value{Kind: KindDateTimeList, DateTimes: dates}, nil
	}
}

// ParseDateTime parses a DATE-TIME value: floating (local, no suffix), or
// UTC ("...Z"). A bare local time is interpreted as UTC by callers that
// don't carry a VTIMEZONE (see vtimezone.go for TZID-qualified resolution).
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "Z"):
		return time.Parse("20060102T150405Z", s)
	case len(s) == 15:
		return time.ParseInLocation("20060102T150405", s, time.UTC)
	default:
		return time.Time{}, fmt.Errorf("ical: bad DATE-TIME %q", s)
	}
}

// ParseDate parses a DATE value (YYYYMMDD).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("ical: bad DATE %q", s)
	}
	return time.Parse("20060102", s)
}

// ParseDuration parses an RFC 5545 DURATION value ("P1DT2H3M4S", "-P2W" ...).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("ical: empty DURATION")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("ical: bad DURATION %q", s)
	}
	s = s[1:]
	if strings.HasPrefix(s, "T") {
		// no date component
	}
	var weeks, days, hours, minutes, seconds int
	inTime := false
	var num strings.Builder
	flush := func(unit byte) error {
		if num.Len() == 0 {
			return nil
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return fmt.Errorf("ical: bad DURATION component in %q: %w", s, err)
		}
		switch unit {
		case 'W':
			weeks = n
		case 'D':
			days = n
		case 'H':
			hours = n
		case 'M':
			if inTime {
				minutes = n
			}
		case 'S':
			seconds = n
		}
		num.Reset()
		return nil
	}
	for _, r := range s {
		switch r {
		case 'T':
			inTime = true
			num.Reset()
		case 'W', 'D', 'H', 'S':
			if err := flush(byte(r)); err != nil {
				return 0, err
			}
		case 'M':
			if err := flush('M'); err != nil {
				return 0, err
			}
		default:
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("ical: bad DURATION %q", s)
			}
			num.WriteRune(r)
		}
	}
	d := time.Duration(weeks)*7*24*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

// ParsePeriod parses a PERIOD value: "<start>/<end>" or "<start>/<duration>".
func ParsePeriod(s string) (Period, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Period{}, fmt.Errorf("ical: bad PERIOD %q", s)
	}
	start, err := ParseDateTime(parts[0])
	if err != nil {
		return Period{}, err
	}
	if strings.HasPrefix(parts[1], "P") || (len(parts[1]) > 0 && (parts[1][0] == '+' || parts[1][0] == '-')) {
		d, err := ParseDuration(parts[1])
		if err != nil {
			return Period{}, err
		}
		return Period{Start: start, Duration: d, End: start.Add(d), HasEnd: true}, nil
	}
	end, err := ParseDateTime(parts[1])
	if err != nil {
		return Period{}, err
	}
	return Period{Start: start, End: end, HasEnd: true}, nil
}

// ParseUTCOffset parses a UTC-OFFSET value ("+0100", "-0530", "+010000").
func ParseUTCOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 && len(s) != 7 {
		return 0, fmt.Errorf("ical: bad UTC-OFFSET %q", s)
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("ical: bad UTC-OFFSET sign %q", s)
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, err
	}
	ss := 0
	if len(s) == 7 {
		ss, err = strconv.Atoi(s[5:7])
		if err != nil {
			return 0, err
		}
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second
	return time.Duration(sign) * d, nil
}

// UnescapeText reverses RFC 5545 §3.3.11 TEXT escaping: \\ -> \, \, -> ,,
// \; -> ;, \n/\N -> LF. Any other escape sequence is preserved literally.
func UnescapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case ',':
				b.WriteByte(',')
				i++
				continue
			case ';':
				b.WriteByte(';')
				i++
				continue
			case 'n', 'N':
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeText applies RFC 5545 §3.3.11 TEXT escaping in the forward direction.
func EscapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, "\n", `\n`)
	return r.Replace(s)
}

// splitUnescaped splits on sep, ignoring occurrences preceded by an odd
// number of backslashes (so "\," does not split).
func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	bs := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			bs++
			cur.WriteByte(c)
			continue
		}
		if c == sep && bs%2 == 0 {
			out = append(out, cur.String())
			cur.Reset()
			bs = 0
			continue
		}
		bs = 0
		cur.WriteByte(c)
	}
	out = append(out, cur.String())
	return out
}

// SplitStructured splits a structured value (N, ADR, ORG, CLIENTPIDMAP,
// GENDER) on unescaped ";" into its components, each further split on
// unescaped "," for multi-valued components.
func SplitStructured(raw string) [][]string {
	fields := splitUnescaped(raw, ';')
	out := make([][]string, len(fields))
	for i, f := range fields {
		out[i] = splitUnescaped(f, ',')
	}
	return out
}
