package remote

import (
	"context"
	"sync"

	"github.com/roach88/retcon/internal/engine"
)

// Scripted hands out remote functions whose completion the caller
// controls by key. Each invocation of a keyed function signals on its
// started channel and then blocks until Resolve or Fail supplies an
// outcome. This pins completion order, which is otherwise a race.
//
// Retries re-invoke the same function: each attempt consumes one
// outcome, so a retrying mutation needs one Resolve/Fail per attempt.
type Scripted struct {
	mu      sync.Mutex
	entries map[string]*scriptEntry
}

type scriptEntry struct {
	started chan struct{}
	results chan error
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{entries: make(map[string]*scriptEntry)}
}

func (s *Scripted) entry(key string) *scriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &scriptEntry{
			started: make(chan struct{}, 64),
			results: make(chan error),
		}
		s.entries[key] = e
	}
	return e
}

// Func returns the controllable remote for key.
func (s *Scripted) Func(key string) engine.RemoteFunc {
	e := s.entry(key)
	return func(ctx context.Context) error {
		select {
		case e.started <- struct{}{}:
		default:
		}
		select {
		case err := <-e.results:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Started returns a channel that receives once per dispatch of key.
// Use it to wait until the engine has actually started the remote
// before resolving it.
func (s *Scripted) Started(key string) <-chan struct{} {
	return s.entry(key).started
}

// Resolve completes the next waiting attempt for key successfully.
// Blocks until an attempt is waiting.
func (s *Scripted) Resolve(key string) {
	s.entry(key).results <- nil
}

// Fail rejects the next waiting attempt for key.
// Blocks until an attempt is waiting.
func (s *Scripted) Fail(key string, err error) {
	s.entry(key).results <- err
}
