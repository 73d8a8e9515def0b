// Package patch implements reversible structural deltas over JSON-shaped
// values.
//
// A value tree is built from map[string]any, []any, and scalars
// (string, bool, numbers, nil). Produce runs a recipe against a draft
// cursor over a base value and captures the edits as forward and
// inverse patch sequences; Apply replays a patch sequence against a
// value without mutating it.
//
// ARCHITECTURE:
//
// Copy-on-write spine:
// The draft copies only the containers along the path of each edit.
// Unchanged subtrees are shared between the base value and the produced
// value. A recipe that makes no effective change returns the base value
// itself - callers rely on that identity to skip empty mutations.
//
// Reversibility:
// Every forward patch is recorded together with its inverse at the
// moment the edit is made, while the pre-edit value is still at hand.
// Applying the forward sequence and then the inverse sequence restores
// the original value structurally.
//
// Affected paths:
// Patches are coarsened to their first two path segments for conflict
// reasoning. Two mutations that touch the same entity collide even when
// they touch different fields of it, because rebasing one across the
// other is ambiguous under last-writer-wins semantics.
package patch
