package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/retcon/internal/patch"
	"github.com/roach88/retcon/internal/store"
)

// Transaction accumulates staged writes across one or more stores,
// binds a remote side-effect, and commits them as one mutation.
// Transactions are single-goroutine builders; they are not safe for
// concurrent use.
type Transaction struct {
	engine *Engine
	label  string
	token  string

	defaultStore store.Store

	// stores in first-touch order; stages keyed by store identity.
	stores []store.Store
	stages map[store.Store]*stage

	remote    RemoteFunc
	committed bool
}

// stage is the per-store working state.
type stage struct {
	// working is the staged value recipes rebase on; meaningful once
	// touched is set.
	working any
	touched bool

	// patches/inverse are the merged sequences in stage order (inverse
	// in reverse stage order).
	patches []patch.Patch
	inverse []patch.Patch

	// unflushed are patches not yet written through to the store.
	unflushed []patch.Patch
}

// TxOption configures a transaction at creation.
type TxOption func(*Transaction)

// WithDefaultStore binds the store that Set targets.
func WithDefaultStore(s store.Store) TxOption {
	return func(t *Transaction) {
		t.defaultStore = s
	}
}

// SetOption configures one staged write.
type SetOption func(*setConfig)

type setConfig struct {
	deferred bool
}

// Deferred stages the recipe without writing the result through to the
// store yet. The staged value becomes the base for the next recipe on
// the same store, so several recipes compose before any observer sees
// an intermediate state. All deferred stages flush at Commit.
func Deferred() SetOption {
	return func(c *setConfig) {
		c.deferred = true
	}
}

// CreateTransaction opens a transaction. The label names the action
// for snapshots and logs.
func (e *Engine) CreateTransaction(label string, opts ...TxOption) *Transaction {
	t := &Transaction{
		engine: e,
		label:  label,
		token:  e.tokens.Generate(),
		stages: make(map[store.Store]*stage),
	}
	for _, opt := range opts {
		opt(t)
	}
	slog.Debug("transaction opened", "label", label, "token", t.token)
	return t
}

// Token returns the transaction's correlation token.
func (t *Transaction) Token() string {
	return t.token
}

// Set applies a recipe to the transaction's default store.
func (t *Transaction) Set(recipe patch.Recipe, opts ...SetOption) error {
	if t.defaultStore == nil {
		return usageErr(ErrCodeNoDefaultStore, t.label, "transaction has no default store")
	}
	return t.SetOn(t.defaultStore, recipe, opts...)
}

// SetOn applies a recipe to a specific store. A recipe that produces
// no patches is dropped. Unless Deferred, the resulting patches are
// written through to the store immediately.
func (t *Transaction) SetOn(s store.Store, recipe patch.Recipe, opts ...SetOption) error {
	if t.committed {
		return usageErr(ErrCodeClosedTransaction, t.label, "set on committed transaction")
	}
	if err := t.engine.claimStore(s); err != nil {
		return err
	}

	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	st, ok := t.stages[s]
	if !ok {
		st = &stage{}
		t.stages[s] = st
		t.stores = append(t.stores, s)
	}

	base := st.working
	if !st.touched {
		base = s.Read()
	}

	res, err := patch.Produce(base, recipe)
	if err != nil {
		return fmt.Errorf("stage recipe for %q: %w", t.label, err)
	}
	if len(res.Patches) == 0 {
		return nil
	}

	st.working = res.Next
	st.touched = true
	st.patches = append(st.patches, res.Patches...)
	st.inverse = append(append([]patch.Patch(nil), res.Inverse...), st.inverse...)
	st.unflushed = append(st.unflushed, res.Patches...)

	if cfg.deferred {
		return nil
	}
	return t.flushStage(s, st)
}

// flushStage writes a stage's unflushed patches through to the store.
// Writing via patch application onto the store's current value (rather
// than the working value) preserves unrelated writes that landed since
// the stage was produced.
func (t *Transaction) flushStage(s store.Store, st *stage) error {
	if len(st.unflushed) == 0 {
		return nil
	}
	next, err := patch.Apply(s.Read(), st.unflushed)
	if err != nil {
		return fmt.Errorf("flush stage for %q: %w", t.label, err)
	}
	s.Write(next)
	st.unflushed = nil
	return nil
}

// Remote binds the asynchronous side-effect that mirrors the staged
// writes on the server.
func (t *Transaction) Remote(fn RemoteFunc) {
	t.remote = fn
}

// Commit finalizes the transaction: flushes deferred stages, builds
// the mutation record, and hands it to the queue. After Commit the
// transaction is closed; a second Commit is a logged no-op.
func (t *Transaction) Commit() error {
	if t.committed {
		slog.Warn("transaction already committed", "label", t.label, "token", t.token)
		return nil
	}
	if t.remote == nil {
		return usageErr(ErrCodeNoMutation, t.label, "commit without a remote mutation")
	}

	deltas := make(map[store.Store]*StoreDelta, len(t.stages))
	touched := make([]store.Store, 0, len(t.stores))
	paths := patch.NewPathSet()
	for _, s := range t.stores {
		st := t.stages[s]
		if len(st.patches) == 0 {
			continue
		}
		touched = append(touched, s)
		deltas[s] = &StoreDelta{Patches: st.patches, Inverse: st.inverse}
		paths.Union(patch.AffectedPaths(st.patches))
	}
	if len(touched) == 0 {
		return usageErr(ErrCodeEmptyTransaction, t.label, "commit with no effective writes")
	}

	for _, s := range touched {
		if err := t.flushStage(s, t.stages[s]); err != nil {
			return err
		}
	}

	m := &Mutation{
		token:  t.token,
		label:  t.label,
		stores: touched,
		deltas: deltas,
		paths:  paths,
		remote: t.remote,
		budget: NewRetryBudget(t.engine.queue.maxRetries),
	}
	t.committed = true

	id := t.engine.queue.enqueue(m)
	slog.Debug("transaction committed", "label", t.label, "token", t.token, "mutation_id", id)
	return nil
}
