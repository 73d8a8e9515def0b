package patch

import (
	"strconv"
	"strings"
)

// Step addresses one level of a value tree: an object key or an array
// index. The zero Step is an object key "".
type Step struct {
	key   string
	index int
	isIdx bool
}

// Key returns a Step addressing an object field.
func Key(k string) Step {
	return Step{key: k}
}

// Index returns a Step addressing an array element.
func Index(i int) Step {
	return Step{index: i, isIdx: true}
}

// IsIndex reports whether the step addresses an array element.
func (s Step) IsIndex() bool {
	return s.isIdx
}

// KeyName returns the object key. Only meaningful when IsIndex is false.
func (s Step) KeyName() string {
	return s.key
}

// Idx returns the array index. Only meaningful when IsIndex is true.
func (s Step) Idx() int {
	return s.index
}

// String renders the step as a path segment.
func (s Step) String() string {
	if s.isIdx {
		return strconv.Itoa(s.index)
	}
	return s.key
}

// Path is an ordered sequence of steps from the root of a value tree.
type Path []Step

// String joins the segments with ".".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Child returns a new path extended by one step.
// The result never aliases the receiver's backing array.
func (p Path) Child(s Step) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = s
	return child
}

// Parent returns the path without its final step.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// ParsePath parses a dotted path string into a Path. Segments that
// parse as non-negative integers become array indices; everything else
// is an object key. Object keys that look numeric cannot be addressed
// through this form - build the Path with Key directly instead.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if i, err := strconv.Atoi(part); err == nil && i >= 0 && part == strconv.Itoa(i) {
			p = append(p, Index(i))
			continue
		}
		p = append(p, Key(part))
	}
	return p
}
