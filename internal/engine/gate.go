package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/store"
)

// ResolveGate applies a resolution payload to a suspended runbook and
// routes it back through the full pipeline: the payload merges into the
// suspended entry's arguments, the runbook recompiles (allocating a new
// version unless an existing one already covers the updated entries), and
// the compiled plan executes under locks. There is no shortcut that runs
// the gated step directly.
func (e *Engine) ResolveGate(ctx context.Context, gateID uuid.UUID, payload ir.ArgMap) (ir.ExecutionOutcome, error) {
	req, err := e.store.GetGateRequest(ctx, gateID)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("resolve gate: %w", err)
	}
	if req.ResolvedAt != nil {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{GateID: gateID, Message: "gate is already resolved"}
	}

	rb, err := e.store.GetRunbook(ctx, req.RunbookID)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("resolve gate: load runbook: %w", err)
	}
	if rb.Status != ir.StatusAwaitingGate {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{
			GateID:  gateID,
			Message: fmt.Sprintf("runbook is %s, not awaiting a gate", rb.Status),
		}
	}
	if req.EntryIndex >= len(rb.Entries) {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{GateID: gateID, Message: "gate points past the entry list"}
	}
	entry := rb.Entries[req.EntryIndex]

	op, ok := e.reg.Lookup(entry.Op)
	if !ok {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{
			GateID:  gateID,
			Message: fmt.Sprintf("operation %q is no longer registered", entry.Op),
		}
	}
	if _, present := payload[op.Spec.GateArg]; !present {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{
			GateID:  gateID,
			Message: fmt.Sprintf("payload is missing the gate argument %q", op.Spec.GateArg),
		}
	}

	merged := make(ir.ArgMap, len(entry.Args)+len(payload))
	for k, v := range entry.Args {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}
	if err := op.Spec.ValidateArgs(merged); err != nil {
		return ir.ExecutionOutcome{}, &GateUnresolvedError{GateID: gateID, Message: err.Error()}
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("resolve gate: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := store.UpdateEntryTx(ctx, tx, entry.ID, merged, ir.EntryResumed); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.ResolveGateRequestTx(ctx, tx, gateID, time.Now().UTC()); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := store.AppendEventTx(ctx, tx, rb.ID, store.EventGateResolved, ir.ArgMap{
		"gate": ir.ArgString(gateID.String()),
		"step": ir.ArgInt(req.EntryIndex),
	}); err != nil {
		return ir.ExecutionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ir.ExecutionOutcome{}, fmt.Errorf("resolve gate: commit: %w", err)
	}

	slog.Info("gate resolved", "runbook", rb.ID, "gate", gateID, "kind", req.Kind)

	// Re-entry: compile (new version unless the updated entries already
	// have one), then execute under locks.
	plan, err := e.compiler.Compile(ctx, rb.ID)
	if err != nil {
		return ir.ExecutionOutcome{}, err
	}
	return e.Execute(ctx, rb.ID, plan.Version)
}
