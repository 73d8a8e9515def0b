package patch

import "reflect"

// Clone deep-copies a JSON-shaped value. Scalars are returned as-is;
// maps and slices are copied recursively. Values entering a draft or a
// patch are cloned so that later caller-side mutation cannot reach into
// captured state.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports structural equality of two JSON-shaped values.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// isContainer reports whether v can hold children.
func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// shallowClone copies one container level, sharing the children.
// Non-containers are returned unchanged.
func shallowClone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = elem
		}
		return out
	case []any:
		out := make([]any, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// childOf resolves one step inside a container. The second result is
// false when the step does not resolve (missing key, index out of
// range, or shape mismatch between step kind and container kind).
func childOf(v any, s Step) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		if s.IsIndex() {
			return nil, false
		}
		child, ok := val[s.KeyName()]
		return child, ok
	case []any:
		if !s.IsIndex() {
			return nil, false
		}
		i := s.Idx()
		if i < 0 || i >= len(val) {
			return nil, false
		}
		return val[i], true
	default:
		return nil, false
	}
}

// setChild writes a child back into an already-copied container.
// The step must resolve; callers establish that via childOf.
func setChild(v any, s Step, child any) {
	switch val := v.(type) {
	case map[string]any:
		val[s.KeyName()] = child
	case []any:
		val[s.Idx()] = child
	}
}
