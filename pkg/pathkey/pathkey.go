// Package pathkey implements the immutable keyed path used throughout
// frontdoor for both hostnames (right-to-left) and URL paths (left-to-right).
package pathkey

import "strings"

// PathKey is a finite ordered sequence of string components plus a
// wildcard flag. Components are non-empty, except for the trailing empty
// component ParsePathSpec uses to mark a directory. Two keys are equal only if both the components and the
// wildcard flag match. A PathKey is immutable; every transform returns a
// new value.
type PathKey struct {
	components []string
	wildcard   bool
}

// Empty is the zero-length, non-wildcard key.
var Empty = PathKey{}

// New builds a PathKey from the given components, non-wildcard.
func New(components ...string) PathKey {
	out := make([]string, len(components))
	copy(out, components)
	return PathKey{components: out}
}

// FromHostname builds the reversed-component PathKey used for SNI/Host
// lookups: "*.example.com" becomes wildcard key [com, example],
// "api.example.com" becomes non-wildcard key [com, example, api], and "*"
// becomes the empty wildcard key.
func FromHostname(name string) PathKey {
	wild := false
	if strings.HasPrefix(name, "*.") {
		wild = true
		name = name[2:]
	} else if name == "*" {
		return PathKey{wildcard: true}
	}
	parts := strings.Split(name, ".")
	return New(parts...).Reversed().WithWildcard(wild)
}

// Components returns the ordered components. Callers must not mutate the
// returned slice.
func (k PathKey) Components() []string {
	return k.components
}

// Len returns the number of components.
func (k PathKey) Len() int {
	return len(k.components)
}

// Wildcard reports whether this key is a wildcard prefix key.
func (k PathKey) Wildcard() bool {
	return k.wildcard
}

// WithWildcard returns a copy of k with the wildcard flag set to w.
func (k PathKey) WithWildcard(w bool) PathKey {
	k.wildcard = w
	return k
}

// Concat returns a new key with component appended. The wildcard flag is
// preserved from k.
func (k PathKey) Concat(component string) PathKey {
	out := make([]string, len(k.components)+1)
	copy(out, k.components)
	out[len(k.components)] = component
	return PathKey{components: out, wildcard: k.wildcard}
}

// ConcatKey returns base ++ extra: the components of extra appended after
// those of base, carrying extra's wildcard flag.
func ConcatKey(base, extra PathKey) PathKey {
	out := make([]string, 0, len(base.components)+len(extra.components))
	out = append(out, base.components...)
	out = append(out, extra.components...)
	return PathKey{components: out, wildcard: extra.wildcard}
}

// Reversed returns a key with components in reverse order, same wildcard
// flag. Used to turn "www.example.com" into [com, example, www].
func (k PathKey) Reversed() PathKey {
	out := make([]string, len(k.components))
	for i, c := range k.components {
		out[len(out)-1-i] = c
	}
	return PathKey{components: out, wildcard: k.wildcard}
}

// StartsWith reports whether k's components begin with other's components.
// The wildcard flags are not compared.
func (k PathKey) StartsWith(other PathKey) bool {
	if len(other.components) > len(k.components) {
		return false
	}
	for i, c := range other.components {
		if k.components[i] != c {
			return false
		}
	}
	return true
}

// Equals reports whether k and other have identical components and
// wildcard flag.
func (k PathKey) Equals(other PathKey) bool {
	if k.wildcard != other.wildcard || len(k.components) != len(other.components) {
		return false
	}
	for i, c := range k.components {
		if other.components[i] != c {
			return false
		}
	}
	return true
}

// Tail returns the components starting at index n as a new non-wildcard
// key (n may equal Len(), yielding Empty).
func (k PathKey) Tail(n int) PathKey {
	return PathKey{components: append([]string(nil), k.components[n:]...)}
}

// Head returns the components up to (excluding) index n.
func (k PathKey) Head(n int) PathKey {
	return PathKey{components: append([]string(nil), k.components[:n]...), wildcard: k.wildcard}
}

// String renders a canonical, non-round-tripping form for logging, e.g.
// "/a/b/*" for wildcard key [a, b], or "/com/example/www" for a reversed
// hostname key.
func (k PathKey) String() string {
	var b strings.Builder
	for _, c := range k.components {
		b.WriteByte('/')
		b.WriteString(c)
	}
	if b.Len() == 0 {
		b.WriteByte('/')
	}
	if k.wildcard {
		b.WriteString("/*")
	}
	return b.String()
}
