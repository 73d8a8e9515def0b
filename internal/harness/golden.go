package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario file and compares the result
// against a golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Expectation violations fail the test before the golden comparison,
// so a stale golden never masks a behavioral regression.
func RunWithGolden(t *testing.T, scenarioPath string) {
	t.Helper()

	sc, err := Load(scenarioPath)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("run scenario %s: %v", sc.Name, err)
	}

	for _, problem := range Check(sc, res) {
		t.Errorf("scenario %s: %v", sc.Name, problem)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}
