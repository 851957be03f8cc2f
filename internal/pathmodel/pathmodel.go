// Package pathmodel implements the typed resource path model: parsing a
// request URI into an ordered sequence of typed segments, and serializing
// one back into a URI path.
package pathmodel

import (
	"errors"
	"fmt"
	"strings"
)

// ResourceType is the first path segment, selecting which collection tree
// a request addresses.
type ResourceType string

const (
	ResourceCalendar    ResourceType = "calendars"
	ResourceAddressbook ResourceType = "addressbooks"
	ResourcePrincipal   ResourceType = "principals"
)

// SegmentKind tags the variant a PathSegment holds.
type SegmentKind int

const (
	SegType SegmentKind = iota
	SegOwner
	SegCollection
	SegItem
	SegGlob
)

// PathSegment is one typed element of a ResourceLocation.
type PathSegment struct {
	Kind      SegmentKind
	Type      ResourceType // valid when Kind == SegType
	Owner     string       // valid when Kind == SegOwner
	Collection string      // valid when Kind == SegCollection
	Item      string       // valid when Kind == SegItem
	Recursive bool         // valid when Kind == SegGlob: true for "**", false for "*"
}

// ResourceLocation is the parsed form of a request URI path.
type ResourceLocation struct {
	Segments []PathSegment
}

var (
	ErrInvalidPathFormat = errors.New("pathmodel: invalid path format")
	ErrCannotSerializeGlob = errors.New("pathmodel: cannot serialize glob without allow_glob")
)

func resourceTypeFor(segment string) (ResourceType, bool) {
	switch segment {
	case string(ResourceCalendar):
		return ResourceCalendar, true
	case string(ResourceAddressbook):
		return ResourceAddressbook, true
	case string(ResourcePrincipal):
		return ResourcePrincipal, true
	default:
		return "", false
	}
}

// Parse splits a request URI path into typed segments: resource type, owner,
// zero or more collection segments, and an optional terminal item or glob.
func Parse(uriPath string) (*ResourceLocation, error) {
	trimmed := strings.TrimPrefix(uriPath, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPathFormat)
	}
	raw := strings.Split(trimmed, "/")

	rt, ok := resourceTypeFor(raw[0])
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidPathFormat, raw[0])
	}
	loc := &ResourceLocation{Segments: []PathSegment{{Kind: SegType, Type: rt}}}

	if len(raw) < 2 || raw[1] == "" {
		return nil, fmt.Errorf("%w: missing owner segment", ErrInvalidPathFormat)
	}
	loc.Segments = append(loc.Segments, PathSegment{Kind: SegOwner, Owner: raw[1]})

	rest := raw[2:]
	for i, seg := range rest {
		isFinal := i == len(rest)-1
		switch {
		case seg == "*" || seg == "**":
			if !isFinal {
				return nil, fmt.Errorf("%w: glob %q must be the final segment", ErrInvalidPathFormat, seg)
			}
			loc.Segments = append(loc.Segments, PathSegment{Kind: SegGlob, Recursive: seg == "**"})
		case isFinal:
			loc.Segments = append(loc.Segments, PathSegment{Kind: SegItem, Item: seg})
		default:
			if strings.Contains(seg, ".") {
				return nil, fmt.Errorf("%w: non-final collection segment %q contains \".\"", ErrInvalidPathFormat, seg)
			}
			loc.Segments = append(loc.Segments, PathSegment{Kind: SegCollection, Collection: seg})
		}
	}
	return loc, nil
}

// Serialize renders the location back to a URI path. Glob segments are
// only emitted when allowGlob is true; otherwise ErrCannotSerializeGlob.
func (loc *ResourceLocation) Serialize(allowGlob bool) (string, error) {
	parts := make([]string, 0, len(loc.Segments))
	for _, seg := range loc.Segments {
		switch seg.Kind {
		case SegType:
			parts = append(parts, string(seg.Type))
		case SegOwner:
			parts = append(parts, seg.Owner)
		case SegCollection:
			parts = append(parts, seg.Collection)
		case SegItem:
			parts = append(parts, seg.Item)
		case SegGlob:
			if !allowGlob {
				return "", ErrCannotSerializeGlob
			}
			if seg.Recursive {
				parts = append(parts, "**")
			} else {
				parts = append(parts, "*")
			}
		}
	}
	return "/" + strings.Join(parts, "/"), nil
}

// ResourceType returns the location's resource type, if any.
func (loc *ResourceLocation) ResourceType() (ResourceType, bool) {
	if len(loc.Segments) > 0 && loc.Segments[0].Kind == SegType {
		return loc.Segments[0].Type, true
	}
	return "", false
}

// Owner returns the location's owner identifier, if any.
func (loc *ResourceLocation) Owner() (string, bool) {
	if len(loc.Segments) > 1 && loc.Segments[1].Kind == SegOwner {
		return loc.Segments[1].Owner, true
	}
	return "", false
}

// CollectionSegments returns the ordered root→leaf collection slugs.
func (loc *ResourceLocation) CollectionSegments() []string {
	var out []string
	for _, seg := range loc.Segments {
		if seg.Kind == SegCollection {
			out = append(out, seg.Collection)
		}
	}
	return out
}

// Item returns the terminal item segment, if any, split into identifier
// and extension (".ics" / ".vcf" stripped, preserved separately).
func (loc *ResourceLocation) Item() (identifier, ext string, ok bool) {
	if len(loc.Segments) == 0 {
		return "", "", false
	}
	last := loc.Segments[len(loc.Segments)-1]
	if last.Kind != SegItem {
		return "", "", false
	}
	name := last.Item
	for _, e := range []string{".ics", ".vcf"} {
		if strings.HasSuffix(name, e) {
			return strings.TrimSuffix(name, e), e, true
		}
	}
	return name, "", true
}

// IsGlob reports whether the location's terminal segment is a glob, and
// whether it is recursive ("**") if so.
func (loc *ResourceLocation) IsGlob() (recursive, ok bool) {
	if len(loc.Segments) == 0 {
		return false, false
	}
	last := loc.Segments[len(loc.Segments)-1]
	if last.Kind != SegGlob {
		return false, false
	}
	return last.Recursive, true
}

// WithCanonicalTail returns a copy of loc with every Owner/Collection/Item
// segment's identifier replaced by its resolved UUID textual form. ext is
// re-appended to the item segment when non-empty.
func (loc *ResourceLocation) WithCanonicalTail(ownerUUID string, collectionUUIDs []string, itemUUID, ext string) *ResourceLocation {
	out := &ResourceLocation{Segments: make([]PathSegment, 0, len(loc.Segments))}
	collIdx := 0
	for _, seg := range loc.Segments {
		switch seg.Kind {
		case SegOwner:
			out.Segments = append(out.Segments, PathSegment{Kind: SegOwner, Owner: ownerUUID})
		case SegCollection:
			id := seg.Collection
			if collIdx < len(collectionUUIDs) {
				id = collectionUUIDs[collIdx]
			}
			collIdx++
			out.Segments = append(out.Segments, PathSegment{Kind: SegCollection, Collection: id})
		case SegItem:
			name := itemUUID
			if ext != "" {
				name += ext
			}
			out.Segments = append(out.Segments, PathSegment{Kind: SegItem, Item: name})
		default:
			out.Segments = append(out.Segments, seg)
		}
	}
	return out
}

// ToResourcePath renders the location as the plain "/"-joined path the
// authorization core matches policy globs against. It is Serialize(false):
// a location that carries a glob segment returns ErrCannotSerializeGlob.
func (loc *ResourceLocation) ToResourcePath() (string, error) {
	return loc.Serialize(false)
}
