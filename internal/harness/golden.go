package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/prestige/internal/ir"
)

// snapshot renders the deterministic view of a scenario run: step labels,
// audit kinds, final status, and version count. Identifiers and timestamps
// are excluded so runs are byte-stable across machines.
func snapshot(name string, result *Result) (ir.ArgMap, error) {
	steps := make(ir.ArgList, len(result.StepResults))
	for i, label := range result.StepResults {
		steps[i] = ir.ArgString(label)
	}
	events := make(ir.ArgList, len(result.EventKinds))
	for i, kind := range result.EventKinds {
		events[i] = ir.ArgString(kind)
	}
	return ir.ArgMap{
		"name":     ir.ArgString(name),
		"steps":    steps,
		"events":   events,
		"status":   ir.ArgString(string(result.Status)),
		"versions": ir.ArgInt(result.Versions),
	}, nil
}

// RunWithGolden executes a scenario and pins its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
