// Package vcard implements the vCard (RFC 6350) text codec used for
// addressbook collections, built on github.com/emersion/go-vcard.
package vcard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
	"github.com/google/uuid"
)

// Decode parses every vCard object in raw (a BEGIN:VCARD...END:VCARD
// stream may contain more than one card, though a stored instance holds
// exactly one).
func Decode(raw []byte) ([]govcard.Card, error) {
	// RFC 6350 mandates CRLF line endings; normalize bare LF input so the
	// decoder's line-unfolding doesn't choke on client-supplied text.
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "\r\n")

	dec := govcard.NewDecoder(strings.NewReader(content))
	var out []govcard.Card
	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vcard: decode: %w", err)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("vcard: no card found")
	}
	return out, nil
}

// Encode serializes cards back to CRLF-terminated vCard text.
func Encode(cards []govcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	enc := govcard.NewEncoder(&buf)
	for _, c := range cards {
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("vcard: encode: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Validate checks the structural minimum RFC 6350 requires: a VERSION and
// an FN on every card in the stream.
func Validate(raw []byte) error {
	cards, err := Decode(raw)
	if err != nil {
		return err
	}
	for i, c := range cards {
		if c.Value(govcard.FieldVersion) == "" {
			return fmt.Errorf("vcard %d: missing VERSION", i)
		}
		if c.Value(govcard.FieldFormattedName) == "" {
			return fmt.Errorf("vcard %d: missing FN", i)
		}
	}
	return nil
}

// Normalize decodes, fills in a missing FN (derived from N) and UID, and
// re-encodes at the target version ("3.0" or "4.0"; "" keeps the existing
// or defaults to 3.0), producing the canonical text stored as the Entity's
// source of truth.
func Normalize(raw []byte, targetVersion string) ([]byte, error) {
	cards, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	for i := range cards {
		c := cards[i]
		switch targetVersion {
		case "4.0":
			c.SetValue(govcard.FieldVersion, "4.0")
			govcard.ToV4(c)
		case "3.0":
			c.SetValue(govcard.FieldVersion, "3.0")
		case "":
			if c.Value(govcard.FieldVersion) == "" {
				c.SetValue(govcard.FieldVersion, "3.0")
			}
		default:
			return nil, fmt.Errorf("vcard: unsupported target version %q", targetVersion)
		}

		if c.Value(govcard.FieldFormattedName) == "" {
			if name := c.Name(); name != nil {
				fn := strings.Join(strings.Fields(strings.Join([]string{
					name.GivenName, name.AdditionalName, name.FamilyName,
				}, " ")), " ")
				if fn != "" {
					c.SetValue(govcard.FieldFormattedName, fn)
				}
			}
			if c.Value(govcard.FieldFormattedName) == "" {
				return nil, fmt.Errorf("vcard %d: missing FN and cannot derive one from N", i)
			}
		}

		if c.Value(govcard.FieldUID) == "" {
			c.SetValue(govcard.FieldUID, uuid.NewString())
		}
		cards[i] = c
	}

	return Encode(cards)
}
