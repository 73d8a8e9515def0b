package patch

import "fmt"

// Recipe mutates a draft in place. Errors (bad navigation, shape
// mismatches) are recorded on the draft and surface from Produce.
type Recipe func(d *Draft)

// Result is the output of Produce: the next value plus the forward and
// inverse patch sequences that connect it to the base.
type Result struct {
	Next    any
	Patches []Patch
	Inverse []Patch
}

// Draft is a copy-on-write working view over a base value. Edits go
// through cursors (see Node); each effective edit records a forward
// patch and its inverse. Only the containers along edited paths are
// copied - untouched subtrees stay shared with the base.
type Draft struct {
	base    any
	work    any
	copied  map[string]bool
	patches []Patch
	inverse []Patch
	err     error
}

// Produce derives (next, patches, inversePatches) from a base value and
// a recipe. The base is never mutated. A recipe with no effective edits
// yields the base itself (reference-identical) and empty patch slices.
func Produce(base any, recipe Recipe) (Result, error) {
	d := &Draft{
		base:   base,
		work:   base,
		copied: make(map[string]bool),
	}
	recipe(d)
	if d.err != nil {
		return Result{}, d.err
	}
	if len(d.patches) == 0 {
		return Result{Next: base}, nil
	}

	// Inverses were recorded in edit order; undoing must run newest
	// edit first.
	inv := make([]Patch, len(d.inverse))
	for i, p := range d.inverse {
		inv[len(inv)-1-i] = p
	}
	return Result{Next: d.work, Patches: d.patches, Inverse: inv}, nil
}

// Root returns a cursor at the root of the draft.
func (d *Draft) Root() *Node {
	return &Node{d: d}
}

// Map returns a cursor at a top-level object field.
func (d *Draft) Map(key string) *Node {
	return d.Root().Map(key)
}

// At returns a cursor at a top-level array element.
func (d *Draft) At(i int) *Node {
	return d.Root().At(i)
}

// Set edits a top-level object field.
func (d *Draft) Set(key string, value any) {
	d.Root().Set(key, value)
}

// Delete removes a top-level object field.
func (d *Draft) Delete(key string) {
	d.Root().Delete(key)
}

// fail records the first error hit by the recipe. Later cursor
// operations become no-ops once the draft is poisoned.
func (d *Draft) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// resolve walks the working tree without copying.
func (d *Draft) resolve(p Path) (any, bool) {
	cur := d.work
	for _, s := range p {
		child, ok := childOf(cur, s)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// materialize returns the container at p with every container along
// the spine copied exactly once per draft.
func (d *Draft) materialize(p Path) (any, error) {
	if !d.copied[""] {
		d.work = shallowClone(d.work)
		d.copied[""] = true
	}
	cur := d.work
	prefix := ""
	for _, s := range p {
		seg := s.String()
		if prefix != "" {
			seg = prefix + "." + seg
		}
		child, ok := childOf(cur, s)
		if !ok {
			return nil, fmt.Errorf("draft path %q does not resolve", seg)
		}
		if !isContainer(child) {
			return nil, fmt.Errorf("draft path %q is not a container", seg)
		}
		if !d.copied[seg] {
			child = shallowClone(child)
			setChild(cur, s, child)
			d.copied[seg] = true
		}
		cur = child
		prefix = seg
	}
	return cur, nil
}

// replaceContainer swaps the container at p for a new one (used by
// array edits that change length). p must already be materialized.
func (d *Draft) replaceContainer(p Path, next any) {
	if len(p) == 0 {
		d.work = next
		return
	}
	parent, err := d.materialize(p.Parent())
	if err != nil {
		d.fail(err)
		return
	}
	setChild(parent, p[len(p)-1], next)
}

// record captures one effective edit.
func (d *Draft) record(forward, inverse Patch) {
	d.patches = append(d.patches, forward)
	d.inverse = append(d.inverse, inverse)
}

// Node is a cursor into a draft. Navigation is cheap and never fails;
// errors surface when an edit targets a path that does not resolve.
type Node struct {
	d    *Draft
	path Path
}

// Map descends into an object field.
func (n *Node) Map(key string) *Node {
	return &Node{d: n.d, path: n.path.Child(Key(key))}
}

// At descends into an array element.
func (n *Node) At(i int) *Node {
	return &Node{d: n.d, path: n.path.Child(Index(i))}
}

// Exists reports whether the cursor's path resolves in the working tree.
func (n *Node) Exists() bool {
	_, ok := n.d.resolve(n.path)
	return ok
}

// Value returns the current value at the cursor. The result shares
// structure with the draft; treat it as read-only.
func (n *Node) Value() (any, bool) {
	return n.d.resolve(n.path)
}

// Get reads an object field under the cursor.
func (n *Node) Get(key string) (any, bool) {
	return n.d.resolve(n.path.Child(Key(key)))
}

// Len returns the length of the array at the cursor, or -1 when the
// cursor does not address an array.
func (n *Node) Len() int {
	v, ok := n.d.resolve(n.path)
	if !ok {
		return -1
	}
	arr, ok := v.([]any)
	if !ok {
		return -1
	}
	return len(arr)
}

// Set writes an object field under the cursor. Setting a value that is
// structurally equal to the current one records nothing.
func (n *Node) Set(key string, value any) {
	if n.d.err != nil {
		return
	}
	container, err := n.d.materialize(n.path)
	if err != nil {
		n.d.fail(err)
		return
	}
	obj, ok := container.(map[string]any)
	if !ok {
		n.d.fail(fmt.Errorf("draft path %q is not an object", n.path.String()))
		return
	}
	old, exists := obj[key]
	if exists && Equal(old, value) {
		return
	}
	val := Clone(value)
	at := n.path.Child(Key(key))
	obj[key] = val
	if exists {
		n.d.record(
			Patch{Op: OpReplace, Path: at, Value: val},
			Patch{Op: OpReplace, Path: at, Value: old},
		)
		return
	}
	n.d.record(
		Patch{Op: OpAdd, Path: at, Value: val},
		Patch{Op: OpRemove, Path: at},
	)
}

// Delete removes an object field under the cursor. Deleting a missing
// field records nothing.
func (n *Node) Delete(key string) {
	if n.d.err != nil {
		return
	}
	container, err := n.d.materialize(n.path)
	if err != nil {
		n.d.fail(err)
		return
	}
	obj, ok := container.(map[string]any)
	if !ok {
		n.d.fail(fmt.Errorf("draft path %q is not an object", n.path.String()))
		return
	}
	old, exists := obj[key]
	if !exists {
		return
	}
	at := n.path.Child(Key(key))
	delete(obj, key)
	n.d.record(
		Patch{Op: OpRemove, Path: at},
		Patch{Op: OpAdd, Path: at, Value: old},
	)
}

// SetIndex overwrites an array element under the cursor.
func (n *Node) SetIndex(i int, value any) {
	if n.d.err != nil {
		return
	}
	arr, ok := n.array(i)
	if !ok {
		return
	}
	old := arr[i]
	if Equal(old, value) {
		return
	}
	val := Clone(value)
	at := n.path.Child(Index(i))
	arr[i] = val
	n.d.record(
		Patch{Op: OpReplace, Path: at, Value: val},
		Patch{Op: OpReplace, Path: at, Value: old},
	)
}

// Append adds a value at the end of the array at the cursor.
func (n *Node) Append(value any) {
	if n.d.err != nil {
		return
	}
	container, err := n.d.materialize(n.path)
	if err != nil {
		n.d.fail(err)
		return
	}
	arr, ok := container.([]any)
	if !ok {
		n.d.fail(fmt.Errorf("draft path %q is not an array", n.path.String()))
		return
	}
	val := Clone(value)
	at := n.path.Child(Index(len(arr)))
	n.d.replaceContainer(n.path, append(arr, val))
	n.d.record(
		Patch{Op: OpAdd, Path: at, Value: val},
		Patch{Op: OpRemove, Path: at},
	)
}

// DeleteIndex removes an array element under the cursor.
func (n *Node) DeleteIndex(i int) {
	if n.d.err != nil {
		return
	}
	arr, ok := n.array(i)
	if !ok {
		return
	}
	old := arr[i]
	at := n.path.Child(Index(i))
	next := make([]any, 0, len(arr)-1)
	next = append(next, arr[:i]...)
	next = append(next, arr[i+1:]...)
	n.d.replaceContainer(n.path, next)
	n.d.record(
		Patch{Op: OpRemove, Path: at},
		Patch{Op: OpAdd, Path: at, Value: old},
	)
}

// array materializes the cursor as an array and bounds-checks i.
func (n *Node) array(i int) ([]any, bool) {
	container, err := n.d.materialize(n.path)
	if err != nil {
		n.d.fail(err)
		return nil, false
	}
	arr, ok := container.([]any)
	if !ok {
		n.d.fail(fmt.Errorf("draft path %q is not an array", n.path.String()))
		return nil, false
	}
	if i < 0 || i >= len(arr) {
		n.d.fail(fmt.Errorf("draft path %q: index %d out of range (len %d)", n.path.String(), i, len(arr)))
		return nil, false
	}
	return arr, true
}
