package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/store"
)

// historyCap bounds the retained retired snapshots, newest first.
const historyCap = 20

// MutationQueue owns the timeline of live mutations and the rollback
// machinery. All state transitions run as single uninterrupted turns
// under mu; the remote side-effects are the only code running outside
// it.
type MutationQueue struct {
	mu sync.Mutex

	ctx context.Context

	// seq issues mutation ids. Strictly increasing under mu; enqueue
	// order, id order, and timestamp order are therefore one ordering.
	// Rollback sorts by it, never by wall clocks.
	seq int64

	// live mutations in enqueue order; history newest-first.
	live     []*Mutation
	history  []Snapshot
	inflight map[int64]struct{}

	maxRetries int

	onError   func(Snapshot, error)
	onSuccess func(Snapshot)
	onChange  func([]Snapshot)
}

func newMutationQueue(ctx context.Context, cfg *config) *MutationQueue {
	return &MutationQueue{
		ctx:        ctx,
		inflight:   make(map[int64]struct{}),
		maxRetries: cfg.maxRetries,
		onError:    cfg.onMutationError,
		onSuccess:  cfg.onMutationSuccess,
		onChange:   cfg.onQueueChange,
	}
}

// HasPending reports whether any mutation is still live (pending or
// in-flight). Retired history does not count.
func (q *MutationQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live) > 0
}

// Snapshots returns the current observable projection: live snapshots
// in enqueue order followed by history snapshots newest-first.
func (q *MutationQueue) Snapshots() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotsLocked()
}

// Clear empties the live queue and the history and forgets all
// in-flight markers. Remote functions already on the wire keep
// running; their eventual completion finds no live mutation and is
// ignored.
func (q *MutationQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	slog.Info("queue cleared", "live", len(q.live), "history", len(q.history))
	q.live = nil
	q.history = nil
	q.inflight = make(map[int64]struct{})
	q.notifyLocked()
}

// enqueue stamps the mutation and appends it to the live queue, then
// starts every startable mutation. Called by Transaction.Commit after
// the stores have been written.
func (q *MutationQueue) enqueue(m *Mutation) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	m.id = q.seq
	m.seq = q.seq
	m.createdAt = time.Now()
	m.status = StatusPending
	q.live = append(q.live, m)

	slog.Info("mutation enqueued",
		"mutation_id", m.id,
		"label", m.label,
		"token", m.token,
		"stores", len(m.stores),
		"patches", m.patchCount(),
	)

	q.notifyLocked()
	q.dispatchLocked()
	return m.id
}

// dispatchLocked starts every live mutation currently pending and not
// already in flight. Mutations execute concurrently; there is no
// path-conflict serialization at dispatch time. The preserved ordering
// guarantee is enqueue order of effects, not completion order -
// rollback reconciles the two when a remote fails.
func (q *MutationQueue) dispatchLocked() {
	for _, m := range q.live {
		if m.status != StatusPending {
			continue
		}
		if _, running := q.inflight[m.id]; running {
			continue
		}
		m.status = StatusInFlight
		q.inflight[m.id] = struct{}{}

		slog.Debug("mutation dispatched",
			"mutation_id", m.id,
			"label", m.label,
			"retries", m.budget.String(),
		)
		q.notifyLocked()

		go q.run(m.id, m.remote)
	}
}

// run executes one remote attempt outside the lock and feeds the
// result back into the queue.
func (q *MutationQueue) run(id int64, remote RemoteFunc) {
	err := remote(q.ctx)
	q.complete(id, err)
}

// complete is the re-entry point from a remote goroutine. A completion
// for a mutation that is no longer live (rolled back by a dependent
// cascade, or swept by Clear) is ignored - that is the contract for
// late resolutions.
func (q *MutationQueue) complete(id int64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.findLocked(id)
	if m == nil || m.status != StatusInFlight {
		slog.Debug("late remote completion ignored", "mutation_id", id, "err", err)
		return
	}
	delete(q.inflight, id)

	if err == nil {
		m.status = StatusSuccess
		snap := q.retireLocked(m)
		slog.Info("mutation succeeded", "mutation_id", m.id, "label", m.label)
		q.notifyLocked()
		if q.onSuccess != nil {
			q.onSuccess(snap)
		}
		q.dispatchLocked()
		return
	}

	if m.budget.Spend() {
		m.status = StatusPending
		slog.Warn("mutation retrying",
			"mutation_id", m.id,
			"label", m.label,
			"retries", m.budget.String(),
			"err", err,
		)
		q.notifyLocked()
		q.dispatchLocked()
		return
	}

	q.rollbackLocked(m, err)
	q.dispatchLocked()
}

// rollbackLocked undoes the failed mutation F and rebases every other
// live mutation on top of the restored state. One uninterrupted turn:
//
//  1. Collect the surviving live mutations newest-first.
//  2. Collect every store touched by F or a survivor.
//  3. Per store: undo survivors newest-first, undo F, then re-apply
//     survivor forward patches oldest-first. A survivor whose patches
//     no longer apply is itself marked failed and cascades.
//  4. Reconciled values are written back in one batch, then every
//     failed mutation is swept out of the live queue.
//  5. One notification at the end, when the live set is repaired.
//
// Survivor forward patches are reused, never re-derived: the original
// delta is the author's intent, and drift surfaces as a patch
// application error treated as a dependent failure.
func (q *MutationQueue) rollbackLocked(failed *Mutation, cause error) {
	failed.status = StatusFailed

	slog.Error("mutation failed, rolling back",
		"mutation_id", failed.id,
		"label", failed.label,
		"err", cause,
	)

	// 1. Survivors, newest first. Undoing later mutations first keeps
	// patch paths valid for deletion-then-addition sequences.
	var rebase []*Mutation
	for i := len(q.live) - 1; i >= 0; i-- {
		m := q.live[i]
		if m == failed || m.status == StatusFailed {
			continue
		}
		rebase = append(rebase, m)
	}

	// 2. Store set, in first-touch order across F then survivors.
	stores := make([]store.Store, 0, len(failed.stores))
	seen := make(map[store.Store]struct{})
	appendStores := func(m *Mutation) {
		for _, s := range m.stores {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			stores = append(stores, s)
		}
	}
	appendStores(failed)
	for i := len(rebase) - 1; i >= 0; i-- {
		appendStores(rebase[i])
	}

	// 3. Reconcile each store independently; collect the next values
	// so every write lands in the same turn (all-or-nothing from the
	// observer's point of view).
	next := make(map[store.Store]any, len(stores))
	for _, s := range stores {
		v := s.Read()

		for _, m := range rebase {
			if d, ok := m.delta(s); ok {
				v = q.mustUnapply(v, d.Inverse, m)
			}
		}
		if d, ok := failed.delta(s); ok {
			v = q.mustUnapply(v, d.Inverse, failed)
		}

		for i := len(rebase) - 1; i >= 0; i-- {
			m := rebase[i]
			// A survivor that already cascaded on an earlier store is
			// not re-applied anywhere else.
			if m.status == StatusFailed {
				continue
			}
			d, ok := m.delta(s)
			if !ok {
				continue
			}
			applied, err := patch.Apply(v, d.Patches)
			if err != nil {
				m.status = StatusFailed
				m.rollbackCause = &DependentRollbackError{
					OriginID:    failed.id,
					OriginLabel: failed.label,
					Cause:       err,
				}
				slog.Warn("dependent mutation rolled back",
					"mutation_id", m.id,
					"label", m.label,
					"origin_id", failed.id,
					"conflicting_paths", m.paths.ConflictsWith(failed.paths),
					"err", err,
				)
				continue
			}
			v = applied
		}
		next[s] = v
	}
	for _, s := range stores {
		s.Write(next[s])
	}

	// 4. Sweep. Dependent casualties retire first in enqueue order,
	// the origin last.
	kept := q.live[:0]
	var casualties []*Mutation
	for _, m := range q.live {
		switch {
		case m == failed:
		case m.status == StatusFailed:
			casualties = append(casualties, m)
		default:
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(q.live); i++ {
		q.live[i] = nil
	}
	q.live = kept

	for _, m := range casualties {
		delete(q.inflight, m.id)
		m.status = StatusRolledBack
		snap := q.historyPushLocked(m)
		if q.onError != nil {
			q.onError(snap, m.rollbackCause)
		}
	}

	delete(q.inflight, failed.id)
	failed.status = StatusRolledBack
	failedSnap := q.historyPushLocked(failed)
	if q.onError != nil {
		q.onError(failedSnap, cause)
	}

	// 5. One notification for the whole repair.
	q.notifyLocked()
}

// mustUnapply applies inverse patches during the undo pass. Inverse
// application cannot fail while the queue invariants hold; if it does,
// the state is left as-is and the fault is logged for investigation.
func (q *MutationQueue) mustUnapply(v any, inverse []patch.Patch, m *Mutation) any {
	out, err := patch.Apply(v, inverse)
	if err != nil {
		slog.Error("inverse patch application failed; state left as-is",
			"mutation_id", m.id,
			"label", m.label,
			"err", err,
		)
		return v
	}
	return out
}

// retireLocked removes a terminal mutation from the live queue and
// records its history snapshot.
func (q *MutationQueue) retireLocked(m *Mutation) Snapshot {
	kept := q.live[:0]
	for _, l := range q.live {
		if l != m {
			kept = append(kept, l)
		}
	}
	for i := len(kept); i < len(q.live); i++ {
		q.live[i] = nil
	}
	q.live = kept
	return q.historyPushLocked(m)
}

// historyPushLocked prepends a terminal snapshot, newest first, capped.
func (q *MutationQueue) historyPushLocked(m *Mutation) Snapshot {
	snap := m.snapshot()
	q.history = append([]Snapshot{snap}, q.history...)
	if len(q.history) > historyCap {
		q.history = q.history[:historyCap]
	}
	return snap
}

// findLocked returns the live mutation with the given id, or nil.
func (q *MutationQueue) findLocked(id int64) *Mutation {
	for _, m := range q.live {
		if m.id == id {
			return m
		}
	}
	return nil
}

// snapshotsLocked builds the observable projection with fresh snapshot
// values on every call.
func (q *MutationQueue) snapshotsLocked() []Snapshot {
	out := make([]Snapshot, 0, len(q.live)+len(q.history))
	for _, m := range q.live {
		out = append(out, m.snapshot())
	}
	for _, snap := range q.history {
		out = append(out, snap.clone())
	}
	return out
}

// notifyLocked synchronously invokes the observer with the current
// projection. Observers must not re-enter the engine.
func (q *MutationQueue) notifyLocked() {
	if q.onChange == nil {
		return
	}
	q.onChange(q.snapshotsLocked())
}
