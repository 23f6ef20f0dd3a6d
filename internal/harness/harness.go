// Package harness runs end-to-end conformance scenarios through the real
// pipeline: submitted entries are parsed, compiled, executed, and resumed by
// the same code paths production uses. Assertions then inspect the database
// the run left behind, and golden files pin the audit-trail shape.
package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/prestige/internal/compiler"
	"github.com/roach88/prestige/internal/dsl"
	"github.com/roach88/prestige/internal/engine"
	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/lock"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"
)

// Result collects what a scenario run observed: one outcome label per step
// plus any assertion failures.
type Result struct {
	// StepResults holds one label per executed step, e.g. "submit:compiled"
	// or "run:awaiting_gate".
	StepResults []string

	// EventKinds is the runbook's audit trail, in order.
	EventKinds []string

	// Status is the runbook's final status.
	Status ir.RunbookStatus

	// Versions is the number of persisted plan versions.
	Versions int

	// Errors lists step and assertion failures. Empty means the scenario
	// passed.
	Errors []string
}

// Passed reports whether the scenario ran clean.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0
}

// Run executes a scenario against a fresh database and evaluates its
// assertions. Step errors abort the remaining steps; assertion failures
// accumulate.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "prestige-harness-*")
	if err != nil {
		return nil, fmt.Errorf("harness: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("harness: open store: %w", err)
	}
	defer st.Close()

	reg, err := registry.Onboarding()
	if err != nil {
		return nil, fmt.Errorf("harness: load catalog: %w", err)
	}
	comp := compiler.New(st, reg)
	eng := engine.New(st, reg, lock.NewManager(), comp)

	ref := scenario.Ref
	if ref == "" {
		ref = scenario.Name
	}

	ctx := context.Background()
	result := &Result{}
	for i, step := range scenario.Steps {
		label, err := runStep(ctx, st, comp, eng, ref, &step)
		if err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
			break
		}
		result.StepResults = append(result.StepResults, label)
		if step.Expect != "" && label != expectedLabel(&step) {
			result.AddError(fmt.Sprintf("step %d: got %q, want %q", i, label, expectedLabel(&step)))
			break
		}
	}

	if err := captureFinalState(ctx, st, ref, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, Ref: ref}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// AddError records a failure message.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func expectedLabel(step *Step) string {
	return stepAction(step) + ":" + step.Expect
}

func stepAction(step *Step) string {
	switch {
	case step.Submit != "":
		return "submit"
	case step.Run:
		return "run"
	default:
		return "resolve"
	}
}

func runStep(
	ctx context.Context,
	st *store.Store,
	comp *compiler.Compiler,
	eng *engine.Engine,
	ref string,
	step *Step,
) (string, error) {
	switch {
	case step.Submit != "":
		return runSubmitStep(ctx, st, comp, ref, step.Submit)
	case step.Run:
		rb, err := st.FindRunbookByRef(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("load runbook: %w", err)
		}
		version, err := st.LatestPlanVersion(ctx, rb.ID)
		if err != nil {
			return "", err
		}
		outcome, err := eng.Execute(ctx, rb.ID, version)
		if err != nil {
			return "", fmt.Errorf("execute: %w", err)
		}
		return "run:" + string(outcome.Kind), nil
	default:
		return runResolveStep(ctx, st, eng, ref, step.Resolve)
	}
}

func runSubmitStep(ctx context.Context, st *store.Store, comp *compiler.Compiler, ref, src string) (string, error) {
	prog, err := dsl.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	entries, err := dsl.Entries(prog)
	if err != nil {
		return "", err
	}

	rb, err := st.FindRunbookByRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		rb, err = st.CreateRunbook(ctx, ref)
	}
	if err != nil {
		return "", fmt.Errorf("load runbook: %w", err)
	}
	if err := st.AppendEntries(ctx, rb.ID, entries); err != nil {
		return "", err
	}

	if _, err := comp.Compile(ctx, rb.ID); err != nil {
		var cerrs compiler.CompileErrors
		if errors.As(err, &cerrs) {
			return "submit:error", nil
		}
		return "", fmt.Errorf("compile: %w", err)
	}
	return "submit:compiled", nil
}

// runResolveStep resolves the runbook's single open gate. Scenarios keep one
// gate open at a time; several open gates mean the scenario is malformed.
func runResolveStep(ctx context.Context, st *store.Store, eng *engine.Engine, ref string, payload map[string]any) (string, error) {
	rb, err := st.FindRunbookByRef(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("load runbook: %w", err)
	}
	open, err := st.ListOpenGateRequests(ctx, rb.ID)
	if err != nil {
		return "", err
	}
	if len(open) != 1 {
		return "", fmt.Errorf("expected one open gate, found %d", len(open))
	}

	args, err := convertArgs(payload)
	if err != nil {
		return "", fmt.Errorf("resolve payload: %w", err)
	}
	outcome, err := eng.ResolveGate(ctx, open[0].ID, args)
	if err != nil {
		var gerr *engine.GateUnresolvedError
		if errors.As(err, &gerr) {
			return "resolve:rejected", nil
		}
		return "", fmt.Errorf("resolve gate: %w", err)
	}
	return "resolve:" + string(outcome.Kind), nil
}

func captureFinalState(ctx context.Context, st *store.Store, ref string, result *Result) error {
	rb, err := st.FindRunbookByRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("harness: final state: %w", err)
	}
	result.Status = rb.Status

	events, err := st.ListEvents(ctx, rb.ID)
	if err != nil {
		return fmt.Errorf("harness: final state: %w", err)
	}
	for _, ev := range events {
		result.EventKinds = append(result.EventKinds, ev.Kind)
	}

	versions, err := st.ListPlanVersions(ctx, rb.ID)
	if err != nil {
		return fmt.Errorf("harness: final state: %w", err)
	}
	result.Versions = len(versions)
	return nil
}

// convertArgs maps YAML-decoded payload values onto the argument model.
func convertArgs(raw map[string]any) (ir.ArgMap, error) {
	args := ir.ArgMap{}
	for key, val := range raw {
		converted, err := convertValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		args[key] = converted
	}
	return args, nil
}

func convertValue(val any) (ir.ArgValue, error) {
	switch v := val.(type) {
	case string:
		return ir.ArgString(v), nil
	case bool:
		return ir.ArgBool(v), nil
	case int:
		return ir.ArgInt(v), nil
	case int64:
		return ir.ArgInt(v), nil
	case []any:
		list := make(ir.ArgList, 0, len(v))
		for _, item := range v {
			converted, err := convertValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return list, nil
	case map[string]any:
		return convertArgs(v)
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", val, val)
	}
}
