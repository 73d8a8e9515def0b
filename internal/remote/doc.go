// Package remote provides the remote-service side of the engine's
// world: controllable remotes for tests and scenarios, a flaky wrapper
// for exercising retry budgets, and a sqlite-backed task service that
// plays a last-writer-wins server in the demo.
//
// The engine itself knows nothing about any of this - a remote is just
// an async function that resolves or rejects. Everything here exists
// to pin down *when* and *how* it does so.
package remote
