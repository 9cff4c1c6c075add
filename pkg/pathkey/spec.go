package pathkey

import "strings"

// ParsePathSpec parses the router path-spec syntax from spec.md §4.5/§6:
// an absolute path beginning with "/", ending in "/" for a directory spec,
// with a trailing "/*" on a directory key marking a wildcard prefix.
//
//	"/a/b/*"  -> wildcard key   [a, b]
//	"/a/b"    -> exact key      [a, b]
//	"/a/b/"   -> exact key      [a, b, ""]   (directory: trailing empty component)
//	"/"       -> exact key      [""]
//	"/*"      -> wildcard key   []
func ParsePathSpec(spec string) PathKey {
	if !strings.HasPrefix(spec, "/") {
		spec = "/" + spec
	}
	trimmed := strings.TrimPrefix(spec, "/")
	if trimmed == "*" {
		return PathKey{wildcard: true}
	}
	wildcard := false
	if strings.HasSuffix(trimmed, "/*") {
		wildcard = true
		trimmed = strings.TrimSuffix(trimmed, "/*")
	}
	if trimmed == "" {
		if wildcard {
			return PathKey{wildcard: true}
		}
		return New("")
	}
	directory := strings.HasSuffix(trimmed, "/")
	parts := strings.Split(strings.TrimSuffix(trimmed, "/"), "/")
	if directory {
		parts = append(parts, "")
	}
	return New(parts...).WithWildcard(wildcard)
}
