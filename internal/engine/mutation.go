package engine

import (
	"context"
	"time"

	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/store"
)

// Status is a mutation's position in the lifecycle state machine.
//
//	pending -> in-flight -> success
//	                     -> failed -> rolled-back
//
// "failed" is an internal pre-rollback marker; it never reaches
// history. Statuses strictly progress - a mutation never moves
// backwards except for the retry transition in-flight -> pending.
type Status string

const (
	// StatusPending means enqueued and awaiting dispatch.
	StatusPending Status = "pending"
	// StatusInFlight means the remote side-effect is running.
	StatusInFlight Status = "in-flight"
	// StatusSuccess means the remote resolved; the mutation is retired.
	StatusSuccess Status = "success"
	// StatusFailed marks a mutation inside the rollback turn.
	StatusFailed Status = "failed"
	// StatusRolledBack means the mutation's effects were undone and it
	// is retired.
	StatusRolledBack Status = "rolled-back"
)

// RemoteFunc is the remote side-effect bound to a mutation. Rejection
// (a non-nil error) is failure; the error value is forwarded opaquely
// to the error callback. A RemoteFunc that never returns stalls its
// mutation at in-flight indefinitely - timeouts are the function's own
// concern.
type RemoteFunc func(ctx context.Context) error

// StoreDelta is one store's share of a mutation: the forward patches
// that applied it and the inverse patches that undo it.
type StoreDelta struct {
	Patches []patch.Patch
	Inverse []patch.Patch
}

// Mutation is one committed transaction tracked through the lifecycle.
// Immutable once enqueued except for status and the retry budget. All
// field access after enqueue happens under the queue mutex.
type Mutation struct {
	id        int64
	seq       int64
	token     string
	label     string
	createdAt time.Time

	status Status

	// stores preserves first-touch order for deterministic iteration;
	// deltas is keyed by store identity.
	stores []store.Store
	deltas map[store.Store]*StoreDelta

	paths  patch.PathSet
	remote RemoteFunc
	budget *RetryBudget

	// rollbackCause is set when the mutation is retired as a dependent
	// casualty of another mutation's rollback.
	rollbackCause error
}

// ID returns the mutation's queue-assigned id.
func (m *Mutation) ID() int64 {
	return m.id
}

// Label returns the human-readable action label.
func (m *Mutation) Label() string {
	return m.label
}

// Status returns the current lifecycle status.
func (m *Mutation) Status() Status {
	return m.status
}

// delta returns the per-store delta, if the mutation touched s.
func (m *Mutation) delta(s store.Store) (*StoreDelta, bool) {
	d, ok := m.deltas[s]
	return d, ok
}

// patchCount totals forward patches across all stores.
func (m *Mutation) patchCount() int {
	n := 0
	for _, d := range m.deltas {
		n += len(d.Patches)
	}
	return n
}
