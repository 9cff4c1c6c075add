// Package pathmap implements the radix/trie map over pathkey.PathKey that
// backs both HostManager (SNI lookups) and the path routers. A node can
// hold at most one exact binding and one wildcard binding simultaneously;
// lookups prefer the most specific exact match, falling back through
// progressively shallower wildcard matches.
package pathmap

import (
	"fmt"
	"sort"

	"github.com/cuemby/frontdoor/pkg/pathkey"
)

// ErrAlreadyBound is returned by Add when a binding with the identical
// (path, wildcard) key already exists.
type ErrAlreadyBound struct {
	Key pathkey.PathKey
}

func (e *ErrAlreadyBound) Error() string {
	return fmt.Sprintf("pathmap: already bound: %s", e.Key.String())
}

type binding[V any] struct {
	value V
}

type node[V any] struct {
	children map[string]*node[V]
	exact    *binding[V]
	wildcard *binding[V]
}

func newNode[V any]() *node[V] {
	return &node[V]{children: make(map[string]*node[V])}
}

// PathMap is a mapping from PathKey to V. The zero value is not usable;
// construct with New.
type PathMap[V any] struct {
	root *node[V]
}

// New constructs an empty PathMap.
func New[V any]() *PathMap[V] {
	return &PathMap[V]{root: newNode[V]()}
}

// Add binds key to value. It fails with *ErrAlreadyBound if a binding with
// the identical (path, wildcard) already exists.
func (m *PathMap[V]) Add(key pathkey.PathKey, value V) error {
	n := m.root
	for _, c := range key.Components() {
		next, ok := n.children[c]
		if !ok {
			next = newNode[V]()
			n.children[c] = next
		}
		n = next
	}
	if key.Wildcard() {
		if n.wildcard != nil {
			return &ErrAlreadyBound{Key: key}
		}
		n.wildcard = &binding[V]{value: value}
		return nil
	}
	if n.exact != nil {
		return &ErrAlreadyBound{Key: key}
	}
	n.exact = &binding[V]{value: value}
	return nil
}

// Get performs an exact lookup: both the path and the wildcard flag of key
// must match an existing binding.
func (m *PathMap[V]) Get(key pathkey.PathKey) (V, bool) {
	n := m.root
	for _, c := range key.Components() {
		next, ok := n.children[c]
		if !ok {
			var zero V
			return zero, false
		}
		n = next
	}
	if key.Wildcard() {
		if n.wildcard != nil {
			return n.wildcard.value, true
		}
	} else if n.exact != nil {
		return n.exact.value, true
	}
	var zero V
	return zero, false
}

// Result is the outcome of a Find/FindWithFallback lookup.
type Result[V any] struct {
	MatchedKey pathkey.PathKey
	Remainder  pathkey.PathKey
	Value      V
}

// Find performs a longest-prefix-plus-wildcard-fallback lookup: it
// descends by key's components; if every component was consumed and the
// final node has an exact binding, that binding wins, else the deepest
// wildcard binding encountered along the way.
func (m *PathMap[V]) Find(key pathkey.PathKey) (Result[V], bool) {
	results := m.FindWithFallback(key)
	if len(results) == 0 {
		var zero Result[V]
		return zero, false
	}
	return results[0], true
}

// FindWithFallback returns the exact match (if any) followed by strictly
// less-specific wildcard matches, closest (deepest) first.
func (m *PathMap[V]) FindWithFallback(key pathkey.PathKey) []Result[V] {
	comps := key.Components()
	nodes := make([]*node[V], 0, len(comps)+1)
	n := m.root
	nodes = append(nodes, n)
	depth := 0
	for depth < len(comps) {
		next, ok := n.children[comps[depth]]
		if !ok {
			break
		}
		n = next
		depth++
		nodes = append(nodes, n)
	}

	var results []Result[V]
	if depth == len(comps) && n.exact != nil {
		results = append(results, Result[V]{
			MatchedKey: key,
			Remainder:  pathkey.Empty,
			Value:      n.exact.value,
		})
	}
	for i := depth; i >= 0; i-- {
		if nodes[i].wildcard != nil {
			results = append(results, Result[V]{
				MatchedKey: pathkey.New(comps[:i]...).WithWildcard(true),
				Remainder:  pathkey.New(comps[i:]...),
				Value:      nodes[i].wildcard.value,
			})
		}
	}
	return results
}

// FindSubtree returns a new PathMap containing every binding that could be
// selected by some key matching the given (possibly wildcard) key: for a
// wildcard key this is the entire subtree rooted at its path; for a
// non-wildcard key it is just that node's own bindings.
func (m *PathMap[V]) FindSubtree(key pathkey.PathKey) *PathMap[V] {
	out := New[V]()
	n := m.root
	for _, c := range key.Components() {
		next, ok := n.children[c]
		if !ok {
			return out
		}
		n = next
	}
	prefix := append([]string(nil), key.Components()...)
	if key.Wildcard() {
		copySubtree(n, prefix, out)
	} else {
		if n.exact != nil {
			_ = out.Add(pathkey.New(prefix...), n.exact.value)
		}
		if n.wildcard != nil {
			_ = out.Add(pathkey.New(prefix...).WithWildcard(true), n.wildcard.value)
		}
	}
	return out
}

func copySubtree[V any](n *node[V], prefix []string, out *PathMap[V]) {
	if n.exact != nil {
		_ = out.Add(pathkey.New(prefix...), n.exact.value)
	}
	if n.wildcard != nil {
		_ = out.Add(pathkey.New(prefix...).WithWildcard(true), n.wildcard.value)
	}
	for _, name := range sortedChildNames(n) {
		copySubtree(n.children[name], append(append([]string(nil), prefix...), name), out)
	}
}

// Walk visits every binding in deterministic preorder: children in
// lexicographic order, non-wildcard before wildcard at each node. It stops
// early if fn returns false.
func (m *PathMap[V]) Walk(fn func(key pathkey.PathKey, value V) bool) {
	walk(m.root, nil, fn)
}

func walk[V any](n *node[V], prefix []string, fn func(pathkey.PathKey, V) bool) bool {
	if n.exact != nil {
		if !fn(pathkey.New(prefix...), n.exact.value) {
			return false
		}
	}
	if n.wildcard != nil {
		if !fn(pathkey.New(prefix...).WithWildcard(true), n.wildcard.value) {
			return false
		}
	}
	for _, name := range sortedChildNames(n) {
		if !walk(n.children[name], append(append([]string(nil), prefix...), name), fn) {
			return false
		}
	}
	return true
}

func sortedChildNames[V any](n *node[V]) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
