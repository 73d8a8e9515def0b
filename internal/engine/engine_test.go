package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/store"
)

// capture records everything the engine reports through its callbacks.
type capture struct {
	mu       sync.Mutex
	batches  [][]Snapshot
	errSnaps []Snapshot
	errs     []error
	succ     []Snapshot
}

func (c *capture) options() []Option {
	return []Option{
		WithOnQueueChange(func(snaps []Snapshot) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.batches = append(c.batches, snaps)
		}),
		WithOnMutationError(func(s Snapshot, err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errSnaps = append(c.errSnaps, s)
			c.errs = append(c.errs, err)
		}),
		WithOnMutationSuccess(func(s Snapshot) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.succ = append(c.succ, s)
		}),
		WithTokenGenerator(NewFixedGenerator()),
	}
}

// statusTrail returns every status observed for one mutation id, with
// consecutive duplicates collapsed.
func (c *capture) statusTrail(id int64) []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	var trail []Status
	for _, batch := range c.batches {
		for _, s := range batch {
			if s.ID != id {
				continue
			}
			if len(trail) == 0 || trail[len(trail)-1] != s.Status {
				trail = append(trail, s.Status)
			}
		}
	}
	return trail
}

func (c *capture) lastBatch() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil
	}
	return c.batches[len(c.batches)-1]
}

// gate returns a remote that blocks until an error (or nil) is sent.
func gate() (RemoteFunc, chan error) {
	ch := make(chan error, 1)
	return func(ctx context.Context) error {
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}, ch
}

func instantOK(context.Context) error { return nil }

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !e.Queue().HasPending()
	}, 2*time.Second, time.Millisecond)
}

func boardStore() *store.MemoryStore {
	return store.NewMemory(map[string]any{
		"tasks": map[string]any{
			"t1": map[string]any{"title": "A", "status": "todo"},
		},
	})
}

func title(s store.Store, id string) string {
	v := s.Read().(map[string]any)
	task, ok := v["tasks"].(map[string]any)[id].(map[string]any)
	if !ok {
		return ""
	}
	return task["title"].(string)
}

func commitRename(t *testing.T, e *Engine, s store.Store, label, taskID, next string, remote RemoteFunc) {
	t.Helper()
	tx := e.CreateTransaction(label, WithDefaultStore(s))
	require.NoError(t, tx.Set(func(d *patch.Draft) {
		d.Map("tasks").Map(taskID).Set("title", next)
	}))
	tx.Remote(remote)
	require.NoError(t, tx.Commit())
}

func TestScenario_SuccessPath(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	remote, release := gate()
	commitRename(t, e, s, "rename", "t1", "B", remote)

	// Optimistic: the store reflects the edit while in flight.
	assert.Equal(t, "B", title(s, "t1"))

	release <- nil
	waitIdle(t, e)

	assert.Equal(t, "B", title(s, "t1"))
	assert.Equal(t, []Status{StatusPending, StatusInFlight, StatusSuccess}, cap.statusTrail(1))

	last := cap.lastBatch()
	require.Len(t, last, 1)
	assert.Equal(t, StatusSuccess, last[0].Status)
	assert.Equal(t, "rename", last[0].Label)
	require.Len(t, cap.succ, 1)
	assert.Empty(t, cap.errs)
}

func TestScenario_SingleFailureRestores(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	boom := errors.New("E")
	remote, release := gate()
	commitRename(t, e, s, "rename", "t1", "B", remote)

	release <- boom
	waitIdle(t, e)

	assert.Equal(t, "A", title(s, "t1"))

	last := cap.lastBatch()
	require.Len(t, last, 1)
	assert.Equal(t, StatusRolledBack, last[0].Status)

	require.Len(t, cap.errs, 1)
	assert.Same(t, boom, cap.errs[0])
	assert.Equal(t, "rename", cap.errSnaps[0].Label)
}

func TestScenario_ConcurrentNonConflicting(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := store.NewMemory(map[string]any{
		"tasks": map[string]any{
			"t1": map[string]any{"title": "A", "status": "todo"},
			"t2": map[string]any{"title": "X", "status": "todo"},
		},
	})

	r1, release1 := gate()
	r2, release2 := gate()
	commitRename(t, e, s, "m1", "t1", "B", r1)
	commitRename(t, e, s, "m2", "t2", "Y", r2)

	release1 <- errors.New("E1")
	release2 <- nil
	waitIdle(t, e)

	assert.Equal(t, "A", title(s, "t1"), "failed edit undone")
	assert.Equal(t, "Y", title(s, "t2"), "surviving edit rebased and kept")

	last := cap.lastBatch()
	require.Len(t, last, 2)
	statuses := map[string]Status{}
	for _, snap := range last {
		statuses[snap.Label] = snap.Status
	}
	assert.Equal(t, StatusRolledBack, statuses["m1"])
	assert.Equal(t, StatusSuccess, statuses["m2"])
}

func TestScenario_ConflictingLaterFails(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	r1, release1 := gate()
	r2, release2 := gate()
	commitRename(t, e, s, "m1", "t1", "B", r1)
	commitRename(t, e, s, "m2", "t1", "C", r2)

	// Visible value follows commit order while both are in flight.
	assert.Equal(t, "C", title(s, "t1"))

	release2 <- errors.New("E2")
	require.Eventually(t, func() bool {
		return title(s, "t1") == "B"
	}, 2*time.Second, time.Millisecond, "rollback re-applies m1's patches")

	release1 <- nil
	waitIdle(t, e)

	assert.Equal(t, "B", title(s, "t1"))
	assert.Equal(t, []Status{StatusPending, StatusInFlight, StatusSuccess}, cap.statusTrail(1))
	assert.Equal(t, []Status{StatusPending, StatusInFlight, StatusRolledBack}, cap.statusTrail(2))
}

func TestScenario_DependentCascade(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	initial := map[string]any{
		"tasks": map[string]any{
			"t1": map[string]any{"title": "A", "status": "todo"},
		},
	}
	s := store.NewMemory(patch.Clone(initial))

	r1, release1 := gate()
	r2, release2 := gate()

	tx1 := e.CreateTransaction("m1", WithDefaultStore(s))
	require.NoError(t, tx1.Set(func(d *patch.Draft) {
		d.Map("tasks").Set("t3", map[string]any{"title": "C", "status": "todo"})
	}))
	tx1.Remote(r1)
	require.NoError(t, tx1.Commit())

	commitRename(t, e, s, "m2", "t3", "C2", r2)
	assert.Equal(t, "C2", title(s, "t3"))

	release1 <- errors.New("E1")
	waitIdle(t, e)

	// m2's forward patches target t3, which no longer exists after
	// m1's undo: both retire as rolled-back and the store is pristine.
	assert.True(t, patch.Equal(initial, s.Read()))

	require.Len(t, cap.errs, 2)
	// The dependent casualty is reported before the origin.
	assert.True(t, IsDependentRollback(cap.errs[0]))
	assert.Equal(t, "m2", cap.errSnaps[0].Label)
	assert.Equal(t, "m1", cap.errSnaps[1].Label)

	var dep *DependentRollbackError
	require.ErrorAs(t, cap.errs[0], &dep)
	assert.Equal(t, int64(1), dep.OriginID)
	var applyErr *patch.ApplyError
	assert.ErrorAs(t, dep.Cause, &applyErr)

	// Late resolution of m2's remote is ignored.
	release2 <- nil
	time.Sleep(10 * time.Millisecond)
	assert.True(t, patch.Equal(initial, s.Read()))
	assert.False(t, e.Queue().HasPending())
}

func TestScenario_CrossStoreAtomicity(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	a := store.NewMemory(map[string]any{"x": 0})
	b := store.NewMemory(map[string]any{"y": 0})

	remote, release := gate()
	tx := e.CreateTransaction("pair")
	require.NoError(t, tx.SetOn(a, func(d *patch.Draft) { d.Set("x", 1) }))
	require.NoError(t, tx.SetOn(b, func(d *patch.Draft) { d.Set("y", 2) }))
	tx.Remote(remote)
	require.NoError(t, tx.Commit())

	assert.Equal(t, map[string]any{"x": 1}, a.Read())
	assert.Equal(t, map[string]any{"y": 2}, b.Read())

	// Count notifications before failing, then verify both stores are
	// restored by the time the rollback's single notification lands.
	cap.mu.Lock()
	before := len(cap.batches)
	cap.mu.Unlock()

	release <- errors.New("E")
	waitIdle(t, e)

	assert.Equal(t, map[string]any{"x": 0}, a.Read())
	assert.Equal(t, map[string]any{"y": 0}, b.Read())

	cap.mu.Lock()
	defer cap.mu.Unlock()
	assert.Equal(t, before+1, len(cap.batches), "rollback notifies exactly once")
}

func TestQueue_RetryBudget(t *testing.T) {
	cap := &capture{}
	opts := append(cap.options(), WithMaxRetries(1))
	e := New(opts...)
	s := boardStore()

	var mu sync.Mutex
	attempts := 0
	remote := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}

	commitRename(t, e, s, "rename", "t1", "B", remote)
	waitIdle(t, e)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()

	assert.Equal(t, "B", title(s, "t1"))
	last := cap.lastBatch()
	require.Len(t, last, 1)
	assert.Equal(t, StatusSuccess, last[0].Status)
	assert.Equal(t, 1, last[0].Retries)
	assert.Equal(t, 1, last[0].MaxRetries)

	// The retry cycled back through pending.
	assert.Equal(t, []Status{
		StatusPending, StatusInFlight, StatusPending, StatusInFlight, StatusSuccess,
	}, cap.statusTrail(1))
}

func TestQueue_RetryExhaustionRollsBack(t *testing.T) {
	cap := &capture{}
	opts := append(cap.options(), WithMaxRetries(2))
	e := New(opts...)
	s := boardStore()

	boom := errors.New("E")
	remote := func(ctx context.Context) error { return boom }

	commitRename(t, e, s, "rename", "t1", "B", remote)
	waitIdle(t, e)

	assert.Equal(t, "A", title(s, "t1"))
	require.Len(t, cap.errs, 1)
	assert.Same(t, boom, cap.errs[0])
	assert.Equal(t, 2, cap.errSnaps[0].Retries)
}

func TestQueue_EnqueueOrderObservability(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := store.NewMemory(map[string]any{
		"tasks": map[string]any{
			"t1": map[string]any{"title": "A"},
			"t2": map[string]any{"title": "B"},
			"t3": map[string]any{"title": "C"},
		},
	})

	var releases []chan error
	for i, id := range []string{"t1", "t2", "t3"} {
		remote, release := gate()
		releases = append(releases, release)
		commitRename(t, e, s, "m"+string(rune('1'+i)), id, "X", remote)
	}

	// While any are live, every batch lists live ids in commit order.
	cap.mu.Lock()
	for _, batch := range cap.batches {
		var liveIDs []int64
		for _, snap := range batch {
			if snap.Status == StatusPending || snap.Status == StatusInFlight {
				liveIDs = append(liveIDs, snap.ID)
			}
		}
		for i := 1; i < len(liveIDs); i++ {
			assert.Less(t, liveIDs[i-1], liveIDs[i])
		}
	}
	cap.mu.Unlock()

	// Release out of commit order; the queue still drains.
	releases[2] <- nil
	releases[0] <- nil
	releases[1] <- nil
	waitIdle(t, e)
}

func TestQueue_IdsFollowCommitOrder(t *testing.T) {
	e := New()
	s := boardStore()

	for _, next := range []string{"B", "C", "D"} {
		commitRename(t, e, s, "step", "t1", next, instantOK)
		waitIdle(t, e)
	}

	// History is newest-first, so ids count down from the latest.
	snaps := e.Queue().Snapshots()
	require.Len(t, snaps, 3)
	for i, snap := range snaps {
		assert.Equal(t, int64(3-i), snap.ID)
		assert.Equal(t, snap.ID, snap.Seq)
	}
}

func TestQueue_HistoryBound(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	for i := 0; i < 25; i++ {
		commitRename(t, e, s, "step", "t1", "title-"+string(rune('a'+i%26)), instantOK)
		waitIdle(t, e)
	}

	snaps := e.Queue().Snapshots()
	assert.LessOrEqual(t, len(snaps), historyCap)
	for _, batch := range cap.batches {
		assert.LessOrEqual(t, len(batch), historyCap+1)
	}
}

func TestQueue_ClearForgetsInFlight(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	remote, release := gate()
	commitRename(t, e, s, "rename", "t1", "B", remote)
	require.True(t, e.Queue().HasPending())

	e.Queue().Clear()
	assert.False(t, e.Queue().HasPending())
	assert.Empty(t, e.Queue().Snapshots())

	// The wire resolves afterwards; nothing comes back to life.
	release <- errors.New("E")
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, e.Queue().Snapshots())
	assert.Empty(t, cap.errs)
	// The optimistic write survives: rollback never ran.
	assert.Equal(t, "B", title(s, "t1"))
}

func TestQueue_SnapshotsAreFresh(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	remote, release := gate()
	commitRename(t, e, s, "rename", "t1", "B", remote)
	release <- nil
	waitIdle(t, e)

	cap.mu.Lock()
	defer cap.mu.Unlock()
	require.GreaterOrEqual(t, len(cap.batches), 2)
	a := cap.batches[0][0].AffectedPaths
	b := cap.batches[1][0].AffectedPaths
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.Equal(t, a, b)
	assert.NotSame(t, &a[0], &b[0], "snapshots must not share backing storage")
}

func TestSnapshot_LabelNormalized(t *testing.T) {
	cap := &capture{}
	e := New(cap.options()...)
	s := boardStore()

	// "é" as 'e' + combining acute; NFC folds it to one rune.
	commitRename(t, e, s, "déplacer", "t1", "B", instantOK)
	waitIdle(t, e)

	last := cap.lastBatch()
	require.Len(t, last, 1)
	assert.Equal(t, "déplacer", last[0].Label)
}
