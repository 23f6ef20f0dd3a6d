package cli

import (
	"log/slog"
	"time"

	"github.com/roach88/prestige/internal/compiler"
	"github.com/roach88/prestige/internal/engine"
	"github.com/roach88/prestige/internal/lock"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"
	"github.com/roach88/prestige/internal/telemetry"
)

// env bundles the collaborators a command needs: the store plus, when
// execution is involved, the registry, compiler, and engine.
type env struct {
	store    *store.Store
	registry *registry.Registry
	compiler *compiler.Compiler
	engine   *engine.Engine

	sink *telemetry.Sink
}

// openEnv opens the database and assembles the execution stack. A non-empty
// telemetryPath attaches the bbolt outcome sink; a positive lockTimeout
// overrides the engine default.
func openEnv(dbPath, telemetryPath string, lockTimeout time.Duration) (*env, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg, err := registry.Onboarding()
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load operation catalog", err)
	}

	comp := compiler.New(st, reg)

	opts := []engine.EngineOption{}
	if lockTimeout > 0 {
		opts = append(opts, engine.WithLockTimeout(lockTimeout))
	}
	var sink *telemetry.Sink
	if telemetryPath != "" {
		sink, err = telemetry.Open(telemetryPath)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open telemetry sink", err)
		}
		opts = append(opts, engine.WithTelemetry(sink))
	}

	return &env{
		store:    st,
		registry: reg,
		compiler: comp,
		engine:   engine.New(st, reg, lock.NewManager(), comp, opts...),
		sink:     sink,
	}, nil
}

func (e *env) close() {
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			slog.Error("error closing telemetry sink", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
