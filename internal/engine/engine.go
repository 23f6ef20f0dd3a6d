// Package engine executes compiled runbook plans and drives gate
// resumption back through the compile pipeline.
//
// The no-bypass rule is structural: Execute takes a runbook and a persisted
// plan version, and there is no entry point that accepts raw entries. Gate
// resolution likewise re-enters compilation before anything runs again.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/prestige/internal/compiler"
	"github.com/roach88/prestige/internal/lock"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"

	"github.com/roach88/prestige/internal/ir"
)

// TelemetryEmitter receives execution outcomes. Emission is best-effort:
// failures set TelemetryDropped on the outcome and never affect the
// execution result.
type TelemetryEmitter interface {
	EmitOutcome(ctx context.Context, outcome *ir.ExecutionOutcome) error
}

// Engine owns an execution pipeline: a store, an operation registry, the
// advisory lock table, and the compiler used for gate re-entry.
type Engine struct {
	store    *store.Store
	reg      *registry.Registry
	locks    *lock.Manager
	compiler *compiler.Compiler

	telemetry   TelemetryEmitter
	lockTimeout time.Duration
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithLockTimeout bounds how long an attempt waits for contended locks.
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithTelemetry attaches an outcome sink.
func WithTelemetry(t TelemetryEmitter) EngineOption {
	return func(e *Engine) { e.telemetry = t }
}

// New creates an engine. The registry is immutable after startup and shared
// read-only with the compiler.
func New(st *store.Store, reg *registry.Registry, locks *lock.Manager, comp *compiler.Compiler, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       st,
		reg:         reg,
		locks:       locks,
		compiler:    comp,
		lockTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// emit sends the outcome to telemetry, recording a drop instead of failing.
func (e *Engine) emit(ctx context.Context, outcome *ir.ExecutionOutcome) {
	if e.telemetry == nil {
		return
	}
	if err := e.telemetry.EmitOutcome(ctx, outcome); err != nil {
		outcome.TelemetryDropped = true
		slog.Warn("telemetry emit failed",
			"runbook", outcome.RunbookID,
			"version", outcome.PlanVersion,
			"error", err)
	}
}
