package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/lock"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"
)

// Execute runs a persisted plan version against a runbook in Compiled
// status.
//
// The attempt:
//  1. acquires advisory locks on the plan's aggregate write set (bounded by
//     the lock timeout; contention fails here, before any status change)
//  2. transitions the runbook to Executing
//  3. runs steps in order: each durable step commits its own transaction,
//     sync steps share the attempt transaction, and suspension commits
//     whatever is open (a durability boundary)
//  4. finishes as Completed, Failed, or AwaitingGate
//
// Step failures and gate suspensions are outcomes, not errors. The error
// return covers lock contention and infrastructure failures only.
func (e *Engine) Execute(ctx context.Context, runbookID uuid.UUID, version int64) (ir.ExecutionOutcome, error) {
	rb, err := e.store.GetRunbook(ctx, runbookID)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: load runbook: %w", err)
	}
	if rb.Status != ir.StatusCompiled {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute runbook %s: status %s: %w", runbookID, rb.Status, ErrNotCompiled)
	}

	plan, err := e.store.GetPlan(ctx, runbookID, version)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: load plan v%d: %w", version, err)
	}

	// Locks come first. A contended attempt fails without touching status,
	// so the runbook never sticks in Executing behind a lock it does not
	// hold.
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	lease, err := e.locks.Acquire(lockCtx, runbookID, plan.WriteSetUnion())
	cancel()
	if err != nil {
		return ir.ExecutionOutcome{}, err
	}
	defer e.release(runbookID, lease)

	if err := e.markExecuting(ctx, runbookID, lease.Keys()); err != nil {
		return ir.ExecutionOutcome{}, err
	}

	outcome, err := e.runSteps(ctx, rb, &plan)
	if err != nil {
		return ir.ExecutionOutcome{}, err
	}
	e.emit(ctx, &outcome)
	return outcome, nil
}

// markExecuting persists the Executing transition and the lock audit event
// before any step runs.
func (e *Engine) markExecuting(ctx context.Context, runbookID uuid.UUID, keys []string) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("execute: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := store.SetStatusTx(ctx, tx, runbookID, ir.StatusCompiled, ir.StatusExecuting); err != nil {
		return err
	}
	if err := store.AppendEventTx(ctx, tx, runbookID, store.EventLockAcquired, ir.ArgMap{
		"keys": lockKeyList(keys),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// release returns the lease and records the release in the audit trail.
func (e *Engine) release(runbookID uuid.UUID, lease *lock.Lease) {
	keys := lease.Keys()
	lease.Release()
	// The attempt transaction is already settled; use a background context
	// so a cancelled attempt still audits its release.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.AppendEvent(ctx, runbookID, store.EventLockReleased, ir.ArgMap{
		"keys": lockKeyList(keys),
	}); err != nil {
		slog.Warn("lock release audit failed", "runbook", runbookID, "error", err)
	}
}

// runSteps executes the plan's steps, maintaining the runtime binding table
// and the durability boundaries. The binding table starts from the
// persisted bindings of earlier attempts, so resumed and appended versions
// resolve aliases their skipped producers committed before.
func (e *Engine) runSteps(ctx context.Context, rb ir.Runbook, plan *ir.CompiledPlan) (ir.ExecutionOutcome, error) {
	bindings, err := e.store.LoadBindings(ctx, rb.ID)
	if err != nil {
		return ir.ExecutionOutcome{}, err
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: begin attempt tx: %w", err)
	}
	committed := false
	syncPending := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, step := range plan.Steps {
		if step.Index >= len(rb.Entries) {
			return ir.ExecutionOutcome{}, fmt.Errorf("execute: step %d has no backing entry", step.Index)
		}
		entry := rb.Entries[step.Index]

		// Entries executed before a suspension boundary keep their
		// committed effects; re-entry skips them.
		if entry.Status == ir.EntryExecuted {
			continue
		}

		op, ok := e.reg.Lookup(step.Op)
		if !ok {
			// Unreachable for plans this registry compiled; guard anyway.
			return ir.ExecutionOutcome{}, fmt.Errorf("execute: step %d: operation %q vanished from registry", step.Index, step.Op)
		}

		// The compiler rejects durable entries behind pending sync work, so
		// the attempt transaction never holds sync writes at a durable
		// boundary. Guard against plans from elsewhere.
		if step.Mode == ir.ModeDurable && syncPending {
			return ir.ExecutionOutcome{}, fmt.Errorf("execute: durable step %d follows uncommitted sync writes", step.Index)
		}

		args, err := resolveArgs(step.Args, bindings)
		if err != nil {
			return e.failAttempt(ctx, tx, rb.ID, plan, step, entry, err, &committed)
		}

		// Gate check precedes dispatch: a suspended step has no effects.
		if op.Spec.Gate != "" {
			if _, present := args[op.Spec.GateArg]; !present {
				return e.suspendAttempt(ctx, tx, rb.ID, plan, step, op.Spec, bindings, &committed)
			}
		}

		if err := store.AppendEventTx(ctx, tx, rb.ID, store.EventStepStarted, stepDetail(step)); err != nil {
			return ir.ExecutionOutcome{}, err
		}

		out, err := op.Handler(ctx, &registry.ExecContext{
			Tx:         tx,
			RunbookID:  rb.ID,
			EntryIndex: step.Index,
			Bindings:   bindings,
		}, args)
		if err != nil {
			return e.failAttempt(ctx, tx, rb.ID, plan, step, entry, err, &committed)
		}

		if step.Alias != "" {
			id, ok := out["id"]
			if !ok {
				err := fmt.Errorf("operation produced no binding for alias @%s", step.Alias)
				return e.failAttempt(ctx, tx, rb.ID, plan, step, entry, err, &committed)
			}
			bindings[step.Alias] = id
			if err := store.SaveBindingTx(ctx, tx, rb.ID, step.Alias, id); err != nil {
				return ir.ExecutionOutcome{}, err
			}
		}

		if err := store.SetEntryStatusTx(ctx, tx, entry.ID, ir.EntryExecuted); err != nil {
			return ir.ExecutionOutcome{}, err
		}
		if err := store.AppendEventTx(ctx, tx, rb.ID, store.EventStepExecuted, stepDetail(step)); err != nil {
			return ir.ExecutionOutcome{}, err
		}

		// Durability boundary: the transaction holds only this durable
		// step's writes, so the commit makes exactly those effects
		// permanent whatever a later step does.
		if step.Mode == ir.ModeDurable {
			if err := tx.Commit(); err != nil {
				return ir.ExecutionOutcome{}, fmt.Errorf("execute: durable commit at step %d: %w", step.Index, err)
			}
			tx, err = e.store.BeginTx(ctx)
			if err != nil {
				committed = true // previous tx is settled
				return ir.ExecutionOutcome{}, fmt.Errorf("execute: reopen after durable step %d: %w", step.Index, err)
			}
		} else {
			syncPending = true
		}
	}

	if err := store.SetStatusTx(ctx, tx, rb.ID, ir.StatusExecuting, ir.StatusCompleted); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.AppendEventTx(ctx, tx, rb.ID, store.EventRunCompleted, ir.ArgMap{
		"version": ir.ArgInt(plan.Version),
	}); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: final commit: %w", err)
	}
	committed = true

	slog.Info("runbook completed", "runbook", rb.ID, "version", plan.Version)
	return ir.ExecutionOutcome{
		Kind:        ir.OutcomeCompleted,
		RunbookID:   rb.ID,
		PlanVersion: plan.Version,
		Bindings:    bindings,
	}, nil
}

// failAttempt rolls back the open attempt transaction and records the
// failure. Durable steps committed at earlier boundaries stay committed;
// the failure is resumable when the failing step ran in durable mode.
func (e *Engine) failAttempt(
	ctx context.Context,
	tx *sql.Tx,
	runbookID uuid.UUID,
	plan *ir.CompiledPlan,
	step ir.CompiledStep,
	entry ir.RunbookEntry,
	stepErr error,
	committed *bool,
) (ir.ExecutionOutcome, error) {
	tx.Rollback()
	*committed = true // settled; suppress the deferred rollback

	execErr := &ExecutionError{
		RunbookID: runbookID,
		Version:   plan.Version,
		StepIndex: step.Index,
		Op:        step.Op,
		Err:       stepErr,
	}

	ftx, err := e.store.BeginTx(ctx)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: begin failure tx: %w", err)
	}
	defer ftx.Rollback()

	if err := store.SetEntryStatusTx(ctx, ftx, entry.ID, ir.EntryFailed); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.SetStatusTx(ctx, ftx, runbookID, ir.StatusExecuting, ir.StatusFailed); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.AppendEventTx(ctx, ftx, runbookID, store.EventStepFailed, ir.ArgMap{
		"step":  ir.ArgInt(step.Index),
		"op":    ir.ArgString(step.Op),
		"error": ir.ArgString(stepErr.Error()),
	}); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.AppendEventTx(ctx, ftx, runbookID, store.EventRunFailed, ir.ArgMap{
		"version": ir.ArgInt(plan.Version),
		"step":    ir.ArgInt(step.Index),
	}); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := ftx.Commit(); err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: commit failure record: %w", err)
	}

	slog.Error("runbook failed",
		"runbook", runbookID,
		"version", plan.Version,
		"step", step.Index,
		"op", step.Op,
		"error", stepErr)

	return ir.ExecutionOutcome{
		Kind:        ir.OutcomeFailed,
		RunbookID:   runbookID,
		PlanVersion: plan.Version,
		FailedStep:  step.Index,
		Error:       execErr.Error(),
		Resumable:   step.Mode == ir.ModeDurable,
	}, nil
}

// suspendAttempt commits the attempt so far and parks the runbook behind a
// gate request. Suspension is a durability boundary: sync effects of the
// steps before the gate are persisted, and re-entry skips them by entry
// status.
func (e *Engine) suspendAttempt(
	ctx context.Context,
	tx *sql.Tx,
	runbookID uuid.UUID,
	plan *ir.CompiledPlan,
	step ir.CompiledStep,
	spec registry.OpSpec,
	bindings ir.ArgMap,
	committed *bool,
) (ir.ExecutionOutcome, error) {
	gate := ir.GateRequest{
		ID:         uuid.New(),
		RunbookID:  runbookID,
		EntryIndex: step.Index,
		Kind:       spec.Gate,
		Prompt:     fmt.Sprintf("%s awaits %s (argument %q)", step.Op, spec.Gate, spec.GateArg),
		CreatedAt:  time.Now().UTC(),
	}

	if err := store.CreateGateRequestTx(ctx, tx, gate); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.SetStatusTx(ctx, tx, runbookID, ir.StatusExecuting, ir.StatusAwaitingGate); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.AppendEventTx(ctx, tx, runbookID, store.EventGateOpened, ir.ArgMap{
		"gate": ir.ArgString(gate.ID.String()),
		"kind": ir.ArgString(string(gate.Kind)),
		"step": ir.ArgInt(step.Index),
	}); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("execute: commit suspension: %w", err)
	}
	*committed = true

	slog.Info("runbook awaiting gate",
		"runbook", runbookID,
		"version", plan.Version,
		"gate", gate.ID,
		"kind", gate.Kind,
		"step", step.Index)

	return ir.ExecutionOutcome{
		Kind:        ir.OutcomeAwaitingGate,
		RunbookID:   runbookID,
		PlanVersion: plan.Version,
		Gate:        &gate,
		Bindings:    bindings,
	}, nil
}

// resolveArgs replaces alias references with runtime bindings, recursing
// through lists and maps. An alias with no binding is an error: the
// compiler ordered producers first, so a miss means the producer never
// delivered.
func resolveArgs(args ir.ArgMap, bindings ir.ArgMap) (ir.ArgMap, error) {
	resolved := make(ir.ArgMap, len(args))
	for _, key := range args.SortedKeys() {
		v, err := resolveValue(args[key], bindings)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func resolveValue(v ir.ArgValue, bindings ir.ArgMap) (ir.ArgValue, error) {
	switch val := v.(type) {
	case ir.AliasRef:
		bound, ok := bindings[val.Name]
		if !ok {
			return nil, fmt.Errorf("binding @%s has no runtime value", val.Name)
		}
		return bound, nil
	case ir.ArgList:
		out := make(ir.ArgList, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, bindings)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case ir.ArgMap:
		return resolveArgs(val, bindings)
	default:
		return v, nil
	}
}

func stepDetail(step ir.CompiledStep) ir.ArgMap {
	return ir.ArgMap{
		"step": ir.ArgInt(step.Index),
		"op":   ir.ArgString(step.Op),
		"mode": ir.ArgString(string(step.Mode)),
	}
}

func lockKeyList(keys []string) ir.ArgList {
	list := make(ir.ArgList, len(keys))
	for i, k := range keys {
		list[i] = ir.ArgString(k)
	}
	return list
}
