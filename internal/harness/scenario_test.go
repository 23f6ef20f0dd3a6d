package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenarioFile(t, `
name: demo
description: a demo scenario
steps:
  - submit: "(case.create :business-ref \"CBU-1\" :as @c)"
  - run: true
    expect: completed
assertions:
  - type: status
    status: completed
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", scenario.Name)
	require.Len(t, scenario.Steps, 2)
	assert.True(t, scenario.Steps[1].Run)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"unknown field rejected",
			"name: x\ndescription: y\nsteps:\n  - run: true\nassertion:\n  - type: status\n",
			"field assertion not found",
		},
		{
			"missing name",
			"description: y\nsteps:\n  - run: true\nassertions:\n  - type: status\n    status: done\n",
			"name is required",
		},
		{
			"step with no action",
			"name: x\ndescription: y\nsteps:\n  - expect: completed\nassertions:\n  - type: status\n    status: done\n",
			"exactly one of submit, run, resolve",
		},
		{
			"step with two actions",
			"name: x\ndescription: y\nsteps:\n  - run: true\n    submit: \"(kyc.start)\"\nassertions:\n  - type: status\n    status: done\n",
			"exactly one of submit, run, resolve",
		},
		{
			"unknown assertion type",
			"name: x\ndescription: y\nsteps:\n  - run: true\nassertions:\n  - type: trace_magic\n",
			"unknown assertion type",
		},
		{
			"final_state without expect",
			"name: x\ndescription: y\nsteps:\n  - run: true\nassertions:\n  - type: final_state\n    table: cases\n",
			"expect is required",
		},
		{
			"event_kinds without kinds",
			"name: x\ndescription: y\nsteps:\n  - run: true\nassertions:\n  - type: event_kinds\n",
			"kinds list is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenarioFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
