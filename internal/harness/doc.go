// Package harness runs declarative engine scenarios.
//
// A scenario is a YAML file describing initial store values, a script
// of commits and remote outcomes, and the expected end state. The
// runner executes the script against a real engine with scripted
// remotes, so completion order - normally a race - is pinned by the
// scenario author. Results feed both assertion checks and golden-file
// comparison.
package harness
