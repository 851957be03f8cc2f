// Package ical implements the iCalendar (RFC 5545) text codec, the
// VTIMEZONE engine, and the recurrence expander. Content-line
// folding/unfolding and the base grammar are delegated to
// github.com/emersion/go-ical; this package adds the typed value model,
// VTIMEZONE offset computation, and RRULE+RDATE/EXDATE expansion on top
// of it.
package ical

import (
	"bytes"
	"fmt"

	goical "github.com/emersion/go-ical"
)

// Decode parses a full iCalendar document (BEGIN:VCALENDAR...END:VCALENDAR).
func Decode(data []byte) (*goical.Calendar, error) {
	cal, err := goical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("ical: decode: %w", err)
	}
	return cal, nil
}

// Encode serializes a calendar back to CRLF-terminated, 75-octet-folded text.
func Encode(cal *goical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("ical: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize decodes then re-encodes, rejecting malformed input and producing
// consistent line folding/escaping for storage.
func Normalize(data []byte) ([]byte, error) {
	cal, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(cal)
}

// TopLevelComponent returns the name of the first scheduling-relevant
// component (VEVENT, VTODO, VJOURNAL) nested directly under VCALENDAR.
func TopLevelComponent(cal *goical.Calendar) (string, error) {
	for _, child := range cal.Children {
		switch child.Name {
		case goical.CompEvent, goical.CompToDo, goical.CompJournal:
			return child.Name, nil
		}
	}
	return "", fmt.Errorf("ical: no supported top-level component")
}

// FindComponent returns the first child component with the given name.
func FindComponent(cal *goical.Calendar, name string) *goical.Component {
	for _, child := range cal.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// FindComponents returns every child component with the given name.
func FindComponents(cal *goical.Calendar, name string) []*goical.Component {
	var out []*goical.Component
	for _, child := range cal.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}
