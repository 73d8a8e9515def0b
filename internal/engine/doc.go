// Package engine implements the optimistic mutation engine: the
// transaction builder, the concurrent mutation queue, and the
// full-rebase rollback algorithm.
//
// ARCHITECTURE:
//
// Single-turn state transitions:
// Every state transition - enqueue, status change, rollback, notify,
// clear - runs to completion under one queue mutex. The only
// suspension points are the remote side-effects, which run on their
// own goroutines and re-enter through a completion call that takes the
// lock. Within a turn nothing interleaves, so rollback repairs the
// live set atomically and new dispatches are only considered once the
// repair is done.
//
// Ordering model:
// Commit order defines the order of effects on the stores and the
// order of snapshots. Completion order is unconstrained - concurrent
// in-flight remotes are the norm, and the wire traffic races. When one
// fails, rollback undoes the other live mutations newest-first, then
// undoes the failed one, and re-applies the survivors' original
// forward patches oldest-first. Survivors whose patches no longer apply are retired as
// dependent rollbacks.
//
// Ids and time:
// Mutations are ordered by a sequence number the queue issues at
// enqueue, never by wall clocks. Wall-clock timestamps and UUIDv7
// transaction tokens exist for display and log correlation only.
//
// Observers receive freshly built snapshots on every queue change and
// must not read back into engine internals or re-enter the engine from
// the callback.
package engine
