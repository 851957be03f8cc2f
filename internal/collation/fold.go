// Package collation implements the RFC 4790 text-comparison tokens the
// filter engine evaluates text-match against, and produces the folded
// columns the CalIndex/CardIndex projections carry for case-insensitive
// matching.
package collation

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// Token is a supported collation identifier (RFC 4790 §9.3 registry,
// restricted to the three tokens CalDAV/CardDAV servers commonly support).
type Token string

const (
	Octet         Token = "i;octet"
	ASCIICasemap  Token = "i;ascii-casemap"
	UnicodeCasemap Token = "i;unicode-casemap"
)

// ErrUnsupportedCollation is surfaced to the caller as CALDAV:supported-collation (403).
var ErrUnsupportedCollation = errors.New("collation: unsupported token")

// DefaultForCalDAV and DefaultForCardDAV resolve the protocol's implicit
// collation when the client's text-match carries none: CalDAV follows RFC
// 4791 §7.5's ASCII case-map default, CardDAV defaults to Unicode folding.
const (
	DefaultForCalDAV  = ASCIICasemap
	DefaultForCardDAV = UnicodeCasemap
)

// ParseToken validates a client-supplied collation token.
func ParseToken(s string) (Token, error) {
	switch Token(s) {
	case Octet, ASCIICasemap, UnicodeCasemap:
		return Token(s), nil
	default:
		return "", ErrUnsupportedCollation
	}
}

// Supported lists every collation token the engine accepts, for rendering
// into a CALDAV:supported-collation precondition error body.
func Supported() []string {
	return []string{string(Octet), string(ASCIICasemap), string(UnicodeCasemap)}
}

var unicodeFolder = cases.Fold(cases.Compact)

// Fold normalizes s under the given collation for comparison: i;octet is
// the identity, i;ascii-casemap upper-cases only A-Z (leaving e.g. "ß"
// untouched), i;unicode-casemap applies full Unicode case folding (so
// "Straße" and "STRASSE" compare equal, as do "Σ"/"σ"/"ς").
func Fold(tok Token, s string) string {
	switch tok {
	case ASCIICasemap:
		return asciiUpper(s)
	case UnicodeCasemap:
		return unicodeFolder.String(s)
	default:
		return s
	}
}

// AsciiFold and UnicodeFold back the *_ascii_fold / *_unicode_fold
// generated index columns, independent of which collation a given query
// happens to request.
func AsciiFold(s string) string   { return asciiUpper(s) }
func UnicodeFold(s string) string { return unicodeFolder.String(s) }

func asciiUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
