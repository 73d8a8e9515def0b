package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative engine script.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are keyed
	// by it.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Engine holds engine configuration.
	Engine EngineSpec `yaml:"engine,omitempty"`

	// Stores maps store names to initial JSON-shaped values.
	Stores map[string]any `yaml:"stores"`

	// Steps is the script, executed in order.
	Steps []Step `yaml:"steps"`

	// Expect validates the end state after the script has run.
	Expect *Expect `yaml:"expect,omitempty"`
}

// EngineSpec configures the engine under test.
type EngineSpec struct {
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Step is one script entry. Exactly one of the fields is set.
type Step struct {
	Commit  *CommitStep  `yaml:"commit,omitempty"`
	Resolve *OutcomeStep `yaml:"resolve,omitempty"`
	Fail    *OutcomeStep `yaml:"fail,omitempty"`
	Clear   *ClearStep   `yaml:"clear,omitempty"`
}

// CommitStep stages edits and commits them as one mutation whose
// remote is scripted under the commit's label.
type CommitStep struct {
	// Label names the mutation; outcome steps refer to it.
	Label string `yaml:"label"`

	// Store targets a store by name. Optional when the scenario has
	// exactly one store.
	Store string `yaml:"store,omitempty"`

	// Edits are applied in order within one recipe.
	Edits []Edit `yaml:"edits"`

	// Deferred stages each edit as its own deferred recipe: nothing is
	// written through until commit, and later edits rebase on the
	// staged working value.
	Deferred bool `yaml:"deferred,omitempty"`
}

// Edit is one path-addressed draft operation.
type Edit struct {
	// Op is one of "set", "delete", "append".
	Op string `yaml:"op"`

	// Path is a dotted path; numeric segments address array indices.
	// For append the path addresses the array itself.
	Path string `yaml:"path"`

	// Value is the payload for set and append.
	Value any `yaml:"value,omitempty"`
}

// OutcomeStep completes one waiting remote attempt for a label:
// resolve succeeds it, fail rejects it with Error.
type OutcomeStep struct {
	Label string `yaml:"label"`
	Error string `yaml:"error,omitempty"`
}

// ClearStep empties the queue and history.
type ClearStep struct{}

// Expect describes the required end state.
type Expect struct {
	// Pending, when set, must match HasPending.
	Pending *bool `yaml:"pending,omitempty"`

	// Stores maps store names to required final values (exact match).
	Stores map[string]any `yaml:"stores,omitempty"`

	// History lists required retired snapshots, newest first.
	History []HistoryExpect `yaml:"history,omitempty"`

	// Errors lists labels expected through the error callback, in
	// callback order.
	Errors []string `yaml:"errors,omitempty"`
}

// HistoryExpect matches one history entry.
type HistoryExpect struct {
	Label  string `yaml:"label"`
	Status string `yaml:"status"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a scenario document.
func LoadBytes(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// validate checks structural constraints the runner relies on.
func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if len(sc.Stores) == 0 {
		return fmt.Errorf("scenario %s: no stores", sc.Name)
	}
	for i, step := range sc.Steps {
		set := 0
		if step.Commit != nil {
			set++
			if step.Commit.Label == "" {
				return fmt.Errorf("scenario %s: step %d: commit without label", sc.Name, i)
			}
			if len(step.Commit.Edits) == 0 {
				return fmt.Errorf("scenario %s: step %d: commit without edits", sc.Name, i)
			}
			if step.Commit.Store == "" && len(sc.Stores) > 1 {
				return fmt.Errorf("scenario %s: step %d: commit needs a store name (scenario has several)", sc.Name, i)
			}
			for j, e := range step.Commit.Edits {
				switch e.Op {
				case "set", "delete", "append":
				default:
					return fmt.Errorf("scenario %s: step %d: edit %d: unknown op %q", sc.Name, i, j, e.Op)
				}
				if e.Path == "" {
					return fmt.Errorf("scenario %s: step %d: edit %d: empty path", sc.Name, i, j)
				}
			}
		}
		if step.Resolve != nil {
			set++
			if step.Resolve.Label == "" {
				return fmt.Errorf("scenario %s: step %d: resolve without label", sc.Name, i)
			}
		}
		if step.Fail != nil {
			set++
			if step.Fail.Label == "" {
				return fmt.Errorf("scenario %s: step %d: fail without label", sc.Name, i)
			}
		}
		if step.Clear != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("scenario %s: step %d: exactly one of commit/resolve/fail/clear required", sc.Name, i)
		}
	}
	return nil
}
