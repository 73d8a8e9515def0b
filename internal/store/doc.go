// Package store defines the state-container adapter the mutation engine
// writes through.
//
// A Store is an opaque handle over one mutable JSON-shaped value with
// three primitives: read the current value, write a whole next value,
// and produce (nextValue, patches, inversePatches) from a recipe.
// Stores are compared by identity - the engine keys per-store deltas on
// the Store interface value itself, so implementations must be
// pointer-shaped.
//
// MemoryStore is the built-in implementation. Reactive containers wrap
// their own state by implementing the same three primitives; whether a
// wrapper notifies its subscribers on Write is the wrapper's concern,
// not the engine's.
package store
