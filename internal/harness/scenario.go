package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end conformance case: a sequence of pipeline
// actions against a fresh database, followed by assertions on the final
// state and audit trail.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Ref is the business reference of the runbook under test. Defaults to
	// the scenario name.
	Ref string `yaml:"ref,omitempty"`

	// Steps is the ordered list of pipeline actions.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and audit trail.
	Assertions []Assertion `yaml:"assertions"`
}

// Step performs exactly one pipeline action. Exactly one of Submit, Run, or
// Resolve must be set.
type Step struct {
	// Submit appends the DSL source's entries to the runbook and compiles.
	Submit string `yaml:"submit,omitempty"`

	// Run executes the latest compiled plan.
	Run bool `yaml:"run,omitempty"`

	// Resolve resolves the runbook's single open gate with this payload.
	Resolve map[string]any `yaml:"resolve,omitempty"`

	// Expect is the expected step result: "compiled" for submit steps, an
	// outcome kind ("completed" | "failed" | "awaiting_gate") for run and
	// resolve steps. Empty means the step must merely not error.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the state left behind by the steps.
type Assertion struct {
	// Type selects the check:
	//   "final_state":   Table row matching Where has the Expect values
	//   "row_count":     Table holds exactly Count rows
	//   "event_kinds":   audit trail kinds equal Kinds, in order
	//   "status":        runbook status equals Status
	//   "version_count": exactly Count plan versions persisted
	Type string `yaml:"type"`

	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Kinds  []string       `yaml:"kinds,omitempty"`
	Status string         `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState   = "final_state"
	AssertRowCount     = "row_count"
	AssertEventKinds   = "event_kinds"
	AssertStatus       = "status"
	AssertVersionCount = "version_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		actions := 0
		if step.Submit != "" {
			actions++
		}
		if step.Run {
			actions++
		}
		if step.Resolve != nil {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("steps[%d]: exactly one of submit, run, resolve is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
	case AssertEventKinds:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_kinds", index)
		}
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertVersionCount:
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be positive for version_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
