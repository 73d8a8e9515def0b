// Package schema validates scenario documents against the embedded CUE
// schema before they reach the harness runner.
package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed scenario.cue
var scenarioCUE string

// ValidateScenario checks a YAML scenario document against the schema.
// The returned error lists every violation CUE reports.
func ValidateScenario(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse scenario YAML: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("scenario document is empty")
	}

	ctx := cuecontext.New()
	sch := ctx.CompileString(scenarioCUE, cue.Filename("scenario.cue"))
	if err := sch.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}
	def := sch.LookupPath(cue.ParsePath("#Scenario"))
	if !def.Exists() {
		return fmt.Errorf("scenario schema missing #Scenario definition")
	}

	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode scenario document: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("scenario does not match schema:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}
