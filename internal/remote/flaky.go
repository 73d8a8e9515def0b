package remote

import (
	"context"
	"sync"

	"github.com/roach88/retcon/internal/engine"
)

// Flaky wraps a remote function and fails its first N invocations with
// a fixed error before letting calls through. Useful for exercising
// retry budgets and rollback paths against otherwise-working remotes.
type Flaky struct {
	mu        sync.Mutex
	remaining int
	err       error
	inner     engine.RemoteFunc
}

// NewFlaky wraps inner so the first failures invocations reject with
// err.
func NewFlaky(inner engine.RemoteFunc, failures int, err error) *Flaky {
	return &Flaky{remaining: failures, err: err, inner: inner}
}

// Func returns the wrapped remote.
func (f *Flaky) Func() engine.RemoteFunc {
	return func(ctx context.Context) error {
		f.mu.Lock()
		if f.remaining > 0 {
			f.remaining--
			err := f.err
			f.mu.Unlock()
			return err
		}
		f.mu.Unlock()
		return f.inner(ctx)
	}
}
