package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ExecutionError is a step-level dispatch failure. It is carried inside a
// Failed outcome; Execute itself returns it only for infrastructure
// failures (store, transaction) where no outcome was produced.
type ExecutionError struct {
	RunbookID uuid.UUID
	Version   int64
	StepIndex int
	Op        string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("runbook %s v%d step %d (%s): %v", e.RunbookID, e.Version, e.StepIndex, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// GateUnresolvedError reports an invalid gate resolution: missing payload
// field, already-resolved gate, or a gate pointing at state that no longer
// matches.
type GateUnresolvedError struct {
	GateID  uuid.UUID
	Message string
}

func (e *GateUnresolvedError) Error() string {
	return fmt.Sprintf("gate %s unresolved: %s", e.GateID, e.Message)
}

// ErrNotCompiled rejects execution of anything that is not a persisted,
// compiled plan at the runbook's current status.
var ErrNotCompiled = errors.New("runbook is not in compiled status")
