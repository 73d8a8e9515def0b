package engine

import (
	"context"
	"sync"

	"github.com/roach88/retcon/internal/store"
)

// Engine is the entry point: it creates transactions and owns the
// mutation queue. Several stores may hang off one engine; one store
// must never be shared between two engines, because each would rebase
// the other's deltas.
type Engine struct {
	queue  *MutationQueue
	tokens TokenGenerator
}

// config collects the engine options.
type config struct {
	ctx               context.Context
	maxRetries        int
	tokens            TokenGenerator
	onMutationError   func(Snapshot, error)
	onMutationSuccess func(Snapshot)
	onQueueChange     func([]Snapshot)
}

// Option configures an Engine.
type Option func(*config)

// WithMaxRetries sets the per-mutation retry budget (default 0: a
// single attempt, no re-dispatch).
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithOnMutationError installs the error callback. It receives the
// retired mutation's snapshot and the failure reason: the remote's
// rejection passed through unaltered, or a DependentRollbackError for
// cascade casualties.
func WithOnMutationError(fn func(Snapshot, error)) Option {
	return func(c *config) {
		c.onMutationError = fn
	}
}

// WithOnMutationSuccess installs the success callback.
func WithOnMutationSuccess(fn func(Snapshot)) Option {
	return func(c *config) {
		c.onMutationSuccess = fn
	}
}

// WithOnQueueChange installs the observer. It is invoked synchronously
// on every queue state change with live snapshots in enqueue order
// followed by history snapshots newest-first. The observer must not
// re-enter the engine.
func WithOnQueueChange(fn func([]Snapshot)) Option {
	return func(c *config) {
		c.onQueueChange = fn
	}
}

// WithTokenGenerator overrides the transaction token source. Tests use
// FixedGenerator for deterministic output.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *config) {
		c.tokens = g
	}
}

// WithContext sets the context handed to remote functions. Cancelling
// it is the caller's blunt instrument for abandoning the wire; the
// resulting rejections still flow through the normal failure path.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		c.ctx = ctx
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	cfg := &config{
		ctx:    context.Background(),
		tokens: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Engine{
		queue:  newMutationQueue(cfg.ctx, cfg),
		tokens: cfg.tokens,
	}
}

// Queue exposes the mutation queue's observable surface.
func (e *Engine) Queue() *MutationQueue {
	return e.queue
}

// storeOwners maps each store to the engine that first wrote through
// it. Claims last for the process lifetime, matching the engines'.
var storeOwners sync.Map

// claimStore binds s to this engine, rejecting stores already bound
// elsewhere.
func (e *Engine) claimStore(s store.Store) error {
	owner, _ := storeOwners.LoadOrStore(s, e)
	if owner != e {
		return usageErr(ErrCodeForeignStore, "", "store is already driven by another engine")
	}
	return nil
}
