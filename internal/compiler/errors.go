package compiler

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// Compile error codes (E200-E299)
const (
	// Operation errors (E201-E209)
	ErrUnknownOperation = "E201" // operation not present in the registry
	ErrInvalidArguments = "E202" // arguments violate the operation's schema

	// Binding errors (E210-E219)
	ErrUnknownBinding   = "E210" // reference to an alias no entry produces
	ErrDuplicateBinding = "E211" // two entries declare the same alias
	ErrCyclicBinding    = "E212" // alias dependency cycle or forward use

	// Write-set errors (E220-E229)
	ErrInvalidWriteSet = "E220" // write-set template failed to expand

	// Mode errors (E230-E239)
	ErrModeOrdering = "E230" // durable step scheduled behind uncommitted sync work
)

// CompileError is one problem found while compiling a runbook's entries.
// EntrySeq is the 1-based entry sequence number the problem was found at.
type CompileError struct {
	Code     string `json:"code"`
	EntrySeq int    `json:"entry_seq,omitempty"`
	Op       string `json:"op,omitempty"`
	Message  string `json:"message"`
}

func (e CompileError) Error() string {
	if e.EntrySeq > 0 {
		return fmt.Sprintf("[%s] entry %d (%s): %s", e.Code, e.EntrySeq, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// CompileErrors aggregates every problem of one compilation attempt.
// Compilation does not fail fast: the caller sees all errors at once and
// nothing has been persisted.
type CompileErrors []CompileError

// StateError rejects compilation of a runbook whose status has no edge to
// Compiled. A completed or failed runbook resumes by appending entries,
// which drafts a new revision; an executing runbook must finish first.
type StateError struct {
	RunbookID uuid.UUID
	Status    ir.RunbookStatus
}

func (e *StateError) Error() string {
	if e.Status == ir.StatusExecuting {
		return fmt.Sprintf("runbook %s is executing: wait for the attempt to finish", e.RunbookID)
	}
	return fmt.Sprintf("runbook %s is %s: append entries to draft a new revision before compiling", e.RunbookID, e.Status)
}

func (es CompileErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d compile errors:\n%s", len(es), strings.Join(msgs, "\n"))
}
