// Package compiler turns a runbook's entries into a persisted, versioned,
// immutable plan. Nothing executes without passing through here first: the
// executor only accepts plan versions this package has written.
//
// Compilation is all-or-nothing. Every check (operations, arguments,
// bindings, write-set expansion) runs before anything touches the database,
// so a failed compilation has zero side effects.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"
)

// Compiler validates entries against the operation registry, derives write
// sets, and persists compiled plan versions.
type Compiler struct {
	store *store.Store
	reg   *registry.Registry
}

// New creates a compiler over a store and an operation registry.
func New(st *store.Store, reg *registry.Registry) *Compiler {
	return &Compiler{store: st, reg: reg}
}

// aliasLockKey scopes an alias's surrogate lock key to its runbook. The
// producer and every consumer of one alias derive the same key; aliases in
// different runbooks never collide. Once an earlier attempt has bound the
// alias, the persisted value replaces the surrogate, so recompiled versions
// lock the concrete resource and contend with runbooks that address it by
// identifier.
func aliasLockKey(runbookID uuid.UUID, bindings ir.ArgMap) registry.AliasKeyFunc {
	return func(alias string) string {
		if bound, ok := bindings[alias]; ok {
			if s, ok := ir.LiteralString(bound); ok {
				return s
			}
		}
		return runbookID.String() + "/@" + alias
	}
}

// Compile loads a runbook, validates and resolves its entries, and persists
// a new plan version, transitioning the runbook to Compiled.
//
// If the entries are unchanged since an earlier compilation (same content
// hash) the existing version is reused instead of allocating a new one.
// Version allocation, plan persistence, and the status transition share one
// transaction; two compilations racing on the same runbook surface as
// store.VersionConflictError rather than duplicate versions.
func (c *Compiler) Compile(ctx context.Context, runbookID uuid.UUID) (ir.CompiledPlan, error) {
	rb, err := c.store.GetRunbook(ctx, runbookID)
	if err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("compile: load runbook: %w", err)
	}
	if len(rb.Entries) == 0 {
		return ir.CompiledPlan{}, fmt.Errorf("compile: runbook %s has no entries", runbookID)
	}

	// Only Draft, Compiled, and AwaitingGate runbooks can reach Compiled.
	// Terminal runbooks are re-drafted by appending entries, never
	// recompiled in place.
	switch rb.Status {
	case ir.StatusDraft, ir.StatusCompiled, ir.StatusAwaitingGate:
	default:
		return ir.CompiledPlan{}, &StateError{RunbookID: runbookID, Status: rb.Status}
	}

	bindings, err := c.store.LoadBindings(ctx, runbookID)
	if err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("compile: %w", err)
	}

	steps, err := c.resolve(rb, bindings)
	if err != nil {
		return ir.CompiledPlan{}, err
	}

	sourceHash, err := ir.EntriesHash(rb.Entries)
	if err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("compile: %w", err)
	}

	// Unchanged entries reuse their existing compiled version.
	if version, found, err := c.store.FindPlanBySourceHash(ctx, runbookID, sourceHash); err != nil {
		return ir.CompiledPlan{}, err
	} else if found {
		plan, err := c.store.GetPlan(ctx, runbookID, version)
		if err != nil {
			return ir.CompiledPlan{}, fmt.Errorf("compile: load existing plan: %w", err)
		}
		if rb.Status != ir.StatusCompiled {
			if err := c.store.SetStatus(ctx, runbookID, rb.Status, ir.StatusCompiled); err != nil {
				return ir.CompiledPlan{}, err
			}
		}
		slog.Debug("reusing compiled plan",
			"runbook", runbookID,
			"version", version,
			"source_hash", sourceHash)
		return plan, nil
	}

	plan := ir.CompiledPlan{
		RunbookID:  runbookID,
		Version:    rb.NextVersion,
		SourceHash: sourceHash,
		Steps:      steps,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("compile: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := store.AllocateVersion(ctx, tx, runbookID, rb.NextVersion); err != nil {
		return ir.CompiledPlan{}, err
	}
	if err := store.WritePlanTx(ctx, tx, &plan); err != nil {
		return ir.CompiledPlan{}, err
	}
	if err := store.SetStatusTx(ctx, tx, runbookID, rb.Status, ir.StatusCompiled); err != nil {
		return ir.CompiledPlan{}, err
	}
	if err := store.AppendEventTx(ctx, tx, runbookID, store.EventCompiled, ir.ArgMap{
		"version":     ir.ArgInt(plan.Version),
		"source_hash": ir.ArgString(sourceHash),
		"steps":       ir.ArgInt(len(steps)),
	}); err != nil {
		return ir.CompiledPlan{}, err
	}

	if err := tx.Commit(); err != nil {
		return ir.CompiledPlan{}, fmt.Errorf("compile: commit: %w", err)
	}

	slog.Info("runbook compiled",
		"runbook", runbookID,
		"version", plan.Version,
		"steps", len(steps),
		"source_hash", sourceHash)
	return plan, nil
}

// resolve runs every static check and produces the plan's steps. It returns
// CompileErrors listing all problems rather than stopping at the first.
func (c *Compiler) resolve(rb ir.Runbook, bindings ir.ArgMap) ([]ir.CompiledStep, error) {
	errs := checkBindings(rb.Entries)
	errs = append(errs, checkModeOrder(rb.Entries)...)
	aliasKey := aliasLockKey(rb.ID, bindings)

	steps := make([]ir.CompiledStep, 0, len(rb.Entries))
	for i, e := range rb.Entries {
		op, ok := c.reg.Lookup(e.Op)
		if !ok {
			errs = append(errs, CompileError{
				Code:     ErrUnknownOperation,
				EntrySeq: e.Seq,
				Op:       e.Op,
				Message:  "operation is not registered",
			})
			continue
		}
		if err := op.Spec.ValidateArgs(e.Args); err != nil {
			errs = append(errs, CompileError{
				Code:     ErrInvalidArguments,
				EntrySeq: e.Seq,
				Op:       e.Op,
				Message:  err.Error(),
			})
			continue
		}
		writeSet, err := registry.ExpandWriteSet(&op.Spec, e.Args, aliasKey)
		if err != nil {
			errs = append(errs, CompileError{
				Code:     ErrInvalidWriteSet,
				EntrySeq: e.Seq,
				Op:       e.Op,
				Message:  err.Error(),
			})
			continue
		}
		steps = append(steps, ir.CompiledStep{
			Index:    i,
			Op:       e.Op,
			Args:     e.Args,
			Alias:    e.Alias,
			WriteSet: writeSet,
			Mode:     e.Mode,
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return steps, nil
}

// checkModeOrder rejects durable entries scheduled behind pending sync
// work. Sync writes stay uncommitted until the attempt ends, so a durable
// commit in between would drag them across the durability boundary.
// Durable entries therefore form a prefix of each attempt. Entries already
// executed by an earlier attempt are skipped at run time and do not
// constrain the ordering.
func checkModeOrder(entries []ir.RunbookEntry) CompileErrors {
	var errs CompileErrors
	firstSync := 0
	for _, e := range entries {
		if e.Status == ir.EntryExecuted {
			continue
		}
		if e.Mode == ir.ModeDurable {
			if firstSync > 0 {
				errs = append(errs, CompileError{
					Code:     ErrModeOrdering,
					EntrySeq: e.Seq,
					Op:       e.Op,
					Message:  fmt.Sprintf("durable entry cannot follow sync entry %d: sync writes are uncommitted until the attempt ends", firstSync),
				})
			}
		} else if firstSync == 0 {
			firstSync = e.Seq
		}
	}
	return errs
}
