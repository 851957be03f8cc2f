package acl

import "strings"

// MatchPattern matches a resource path against a policy path-pattern:
// segments equal literally; "*" matches exactly one segment; "**" (only
// legal as the final pattern segment) matches one or more trailing segments.
func MatchPattern(pattern, resourcePath string) bool {
	pSegs := splitPath(pattern)
	rSegs := splitPath(resourcePath)

	for i, ps := range pSegs {
		if ps == "**" {
			// Only legal as final segment; matches one or more remaining
			// segments, so the resource must have at least one left.
			return i < len(rSegs)
		}
		if i >= len(rSegs) {
			return false
		}
		if ps == "*" {
			continue
		}
		if ps != rSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(rSegs)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
