package patch

import (
	"sort"
	"strings"
)

// affectedDepth is the coarsening depth for entity paths. Two segments
// identify the entity (collection + id); edits to different fields of
// one entity must still collide, because rebasing them across each
// other is ambiguous under last-writer-wins.
const affectedDepth = 2

// PathSet is a set of coarse entity paths.
type PathSet map[string]struct{}

// NewPathSet builds a set from literal paths.
func NewPathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

// AffectedPaths computes the entity paths a patch sequence touches:
// the first min(len(path), affectedDepth) segments of each patch path,
// joined with ".".
func AffectedPaths(patches []Patch) PathSet {
	s := make(PathSet, len(patches))
	for _, p := range patches {
		depth := len(p.Path)
		if depth > affectedDepth {
			depth = affectedDepth
		}
		s[Path(p.Path[:depth]).String()] = struct{}{}
	}
	return s
}

// Add inserts a path.
func (s PathSet) Add(path string) {
	s[path] = struct{}{}
}

// Union merges another set into this one.
func (s PathSet) Union(other PathSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Slice returns the paths in sorted order.
func (s PathSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ConflictsWith reports whether any path in s equals, prefixes, or is
// prefixed by any path in other. Prefix boundaries fall on ".": "tasks"
// conflicts with "tasks.t1", "task" does not. The predicate is
// symmetric, and reflexive for any non-empty set.
func (s PathSet) ConflictsWith(other PathSet) bool {
	for a := range s {
		for b := range other {
			if pathsCollide(a, b) {
				return true
			}
		}
	}
	return false
}

func pathsCollide(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}
