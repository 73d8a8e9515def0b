package harness

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/retcon/internal/engine"
	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/remote"
	"github.com/roach88/retcon/internal/store"
)

// settleTimeout bounds how long the runner waits for the engine to
// process a remote outcome.
const settleTimeout = 2 * time.Second

// Result is the observed end state of a scenario run.
type Result struct {
	// Stores maps store names to final values.
	Stores map[string]any `json:"stores"`

	// History lists retired mutations newest-first.
	History []HistoryEntry `json:"history"`

	// Errors lists error-callback invocations in order.
	Errors []ErrorEntry `json:"errors"`

	// Pending reports whether mutations were still live at the end.
	Pending bool `json:"pending"`
}

// HistoryEntry is one retired mutation.
type HistoryEntry struct {
	Label  string `json:"label"`
	Status string `json:"status"`
}

// ErrorEntry is one error-callback invocation. Message carries the
// remote's rejection; dependent cascade reasons are flagged instead,
// since their text embeds run-specific ids.
type ErrorEntry struct {
	Label     string `json:"label"`
	Message   string `json:"message"`
	Dependent bool   `json:"dependent"`
}

// Run executes a scenario against a real engine with scripted remotes.
func Run(sc *Scenario) (*Result, error) {
	script := remote.NewScripted()

	var mu sync.Mutex
	errs := []ErrorEntry{}

	opts := []engine.Option{
		engine.WithMaxRetries(sc.Engine.MaxRetries),
		engine.WithTokenGenerator(engine.NewFixedGenerator()),
		engine.WithOnMutationError(func(snap engine.Snapshot, err error) {
			entry := ErrorEntry{Label: snap.Label}
			if engine.IsDependentRollback(err) {
				entry.Dependent = true
			} else if err != nil {
				entry.Message = err.Error()
			}
			mu.Lock()
			errs = append(errs, entry)
			mu.Unlock()
		}),
	}
	eng := engine.New(opts...)

	stores := make(map[string]*store.MemoryStore, len(sc.Stores))
	for name, initial := range sc.Stores {
		stores[name] = store.NewMemory(patch.Clone(initial))
	}

	for i, step := range sc.Steps {
		var err error
		switch {
		case step.Commit != nil:
			err = runCommit(eng, script, stores, step.Commit)
		case step.Resolve != nil:
			err = runOutcome(eng, script, step.Resolve, nil)
		case step.Fail != nil:
			reason := step.Fail.Error
			if reason == "" {
				reason = "remote rejected"
			}
			err = runOutcome(eng, script, step.Fail, errors.New(reason))
		case step.Clear != nil:
			eng.Queue().Clear()
		}
		if err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", sc.Name, i, err)
		}
	}

	result := &Result{
		Stores:  make(map[string]any, len(stores)),
		History: []HistoryEntry{},
		Pending: eng.Queue().HasPending(),
	}
	for name, s := range stores {
		result.Stores[name] = s.Read()
	}
	for _, snap := range eng.Queue().Snapshots() {
		if snap.Status != engine.StatusSuccess && snap.Status != engine.StatusRolledBack {
			continue
		}
		result.History = append(result.History, HistoryEntry{
			Label:  snap.Label,
			Status: string(snap.Status),
		})
	}
	mu.Lock()
	result.Errors = errs
	mu.Unlock()

	return result, nil
}

// runCommit builds and commits one transaction.
func runCommit(eng *engine.Engine, script *remote.Scripted, stores map[string]*store.MemoryStore, step *CommitStep) error {
	target, err := pickStore(stores, step.Store)
	if err != nil {
		return err
	}

	tx := eng.CreateTransaction(step.Label, engine.WithDefaultStore(target))
	if step.Deferred {
		// One deferred stage per edit; stages compose on the working
		// value and flush together at commit.
		for _, e := range step.Edits {
			e := e
			err := tx.Set(func(d *patch.Draft) { applyEdit(d, e) }, engine.Deferred())
			if err != nil {
				return fmt.Errorf("commit %q: %w", step.Label, err)
			}
		}
	} else {
		recipe := func(d *patch.Draft) {
			for _, e := range step.Edits {
				applyEdit(d, e)
			}
		}
		if err := tx.Set(recipe); err != nil {
			return fmt.Errorf("commit %q: %w", step.Label, err)
		}
	}
	tx.Remote(script.Func(step.Label))
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %q: %w", step.Label, err)
	}
	return nil
}

// applyEdit routes one edit through the draft cursor.
func applyEdit(d *patch.Draft, e Edit) {
	p := patch.ParsePath(e.Path)

	if e.Op == "append" {
		cursorTo(d, p).Append(e.Value)
		return
	}

	parent := cursorTo(d, p.Parent())
	last := p[len(p)-1]
	switch e.Op {
	case "set":
		if last.IsIndex() {
			parent.SetIndex(last.Idx(), e.Value)
		} else {
			parent.Set(last.KeyName(), e.Value)
		}
	case "delete":
		if last.IsIndex() {
			parent.DeleteIndex(last.Idx())
		} else {
			parent.Delete(last.KeyName())
		}
	}
}

// cursorTo walks a parsed path into a draft cursor.
func cursorTo(d *patch.Draft, p patch.Path) *patch.Node {
	n := d.Root()
	for _, s := range p {
		if s.IsIndex() {
			n = n.At(s.Idx())
		} else {
			n = n.Map(s.KeyName())
		}
	}
	return n
}

// pickStore resolves a commit's target store.
func pickStore(stores map[string]*store.MemoryStore, name string) (*store.MemoryStore, error) {
	if name != "" {
		s, ok := stores[name]
		if !ok {
			return nil, fmt.Errorf("unknown store %q", name)
		}
		return s, nil
	}
	for _, s := range stores {
		return s, nil
	}
	return nil, fmt.Errorf("no stores defined")
}

// runOutcome feeds one remote attempt its outcome and waits for the
// engine to absorb it.
func runOutcome(eng *engine.Engine, script *remote.Scripted, step *OutcomeStep, failure error) error {
	select {
	case <-script.Started(step.Label):
	case <-time.After(settleTimeout):
		return fmt.Errorf("remote %q never dispatched", step.Label)
	}

	prevRetries := liveRetries(eng, step.Label)
	if failure != nil {
		script.Fail(step.Label, failure)
	} else {
		script.Resolve(step.Label)
	}

	// Settled means the attempt's consequences are visible: the label
	// left the live queue, or it cycled back as a retry.
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		retries, live := labelState(eng, step.Label)
		if !live || retries > prevRetries {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("engine did not settle after outcome for %q", step.Label)
}

func liveRetries(eng *engine.Engine, label string) int {
	retries, _ := labelState(eng, label)
	return retries
}

// labelState reports the retry count and liveness of a label.
func labelState(eng *engine.Engine, label string) (int, bool) {
	for _, snap := range eng.Queue().Snapshots() {
		if snap.Label != label {
			continue
		}
		if snap.Status == engine.StatusPending || snap.Status == engine.StatusInFlight {
			return snap.Retries, true
		}
	}
	return 0, false
}

// Check validates a result against the scenario's expectations and
// returns every violation.
func Check(sc *Scenario, res *Result) []error {
	if sc.Expect == nil {
		return nil
	}
	var problems []error
	exp := sc.Expect

	if exp.Pending != nil && *exp.Pending != res.Pending {
		problems = append(problems, fmt.Errorf("pending: want %v, got %v", *exp.Pending, res.Pending))
	}

	names := make([]string, 0, len(exp.Stores))
	for name := range exp.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		got, ok := res.Stores[name]
		if !ok {
			problems = append(problems, fmt.Errorf("store %q: not in result", name))
			continue
		}
		if !patch.Equal(exp.Stores[name], got) {
			problems = append(problems, fmt.Errorf("store %q: want %v, got %v", name, exp.Stores[name], got))
		}
	}

	if exp.History != nil {
		if len(exp.History) != len(res.History) {
			problems = append(problems, fmt.Errorf("history: want %d entries, got %d", len(exp.History), len(res.History)))
		} else {
			for i, want := range exp.History {
				got := res.History[i]
				if want.Label != got.Label || want.Status != got.Status {
					problems = append(problems, fmt.Errorf("history[%d]: want %s=%s, got %s=%s",
						i, want.Label, want.Status, got.Label, got.Status))
				}
			}
		}
	}

	if exp.Errors != nil {
		got := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			got[i] = e.Label
		}
		if len(exp.Errors) != len(got) {
			problems = append(problems, fmt.Errorf("errors: want %v, got %v", exp.Errors, got))
		} else {
			for i := range exp.Errors {
				if exp.Errors[i] != got[i] {
					problems = append(problems, fmt.Errorf("errors[%d]: want %s, got %s", i, exp.Errors[i], got[i]))
					break
				}
			}
		}
	}

	return problems
}
