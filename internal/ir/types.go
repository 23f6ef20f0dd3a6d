package ir

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// RunbookStatus is the lifecycle state of a runbook's current plan version.
//
//	Draft → Compiled → Executing → {Completed, Failed, AwaitingGate}
//	AwaitingGate → (gate resolved) → Compiled
//
// Completed and Failed are terminal for that version; appending a new entry
// produces a new version and moves the runbook back to Draft.
type RunbookStatus string

const (
	StatusDraft        RunbookStatus = "draft"
	StatusCompiled     RunbookStatus = "compiled"
	StatusExecuting    RunbookStatus = "executing"
	StatusCompleted    RunbookStatus = "completed"
	StatusFailed       RunbookStatus = "failed"
	StatusAwaitingGate RunbookStatus = "awaiting_gate"
)

// validTransitions encodes the status machine. The only edge out of a
// terminal state is back to Draft via an appended entry.
var validTransitions = map[RunbookStatus][]RunbookStatus{
	StatusDraft:        {StatusCompiled},
	StatusCompiled:     {StatusExecuting, StatusDraft},
	StatusExecuting:    {StatusCompleted, StatusFailed, StatusAwaitingGate},
	StatusAwaitingGate: {StatusCompiled, StatusDraft},
	StatusCompleted:    {StatusDraft},
	StatusFailed:       {StatusDraft},
}

// CanTransition reports whether moving from one runbook status to another is
// legal.
func CanTransition(from, to RunbookStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EntryStatus is the per-entry lifecycle. An entry is immutable once
// Executed.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryResumed  EntryStatus = "resumed"
	EntryExecuted EntryStatus = "executed"
	EntryFailed   EntryStatus = "failed"
)

// ExecutionMode controls how a step's writes relate to the attempt's shared
// transaction.
type ExecutionMode string

const (
	// ModeSync runs inside the shared transaction; any failure rolls back
	// every sync step of the attempt.
	ModeSync ExecutionMode = "sync"
	// ModeDurable commits independently so the step's effects survive a
	// crash mid-plan. Already-committed durable steps are not undone on a
	// later failure.
	ModeDurable ExecutionMode = "durable"
)

// Runbook is the persistent container for an ordered workflow of entries.
// NextVersion is the monotonic version counter; it is persisted and never
// reconstructed from the entry count.
type Runbook struct {
	ID          uuid.UUID
	BusinessRef string
	NextVersion int64
	Status      RunbookStatus
	Entries     []RunbookEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunbookEntry is one submitted operation call. Alias, when non-empty, names
// the output binding this entry produces (":as @alias" in the DSL).
type RunbookEntry struct {
	ID     uuid.UUID
	Seq    int
	Op     string
	Args   ArgMap
	Alias  string
	Mode   ExecutionMode
	Status EntryStatus
}

// CompiledPlan is the immutable, persisted artifact produced by compilation.
// SourceHash is the content hash of the entries it was compiled from; an
// unchanged entry list re-submitted for compilation can be matched against
// an existing version by this hash.
type CompiledPlan struct {
	RunbookID  uuid.UUID
	Version    int64
	SourceHash string
	Steps      []CompiledStep
	CreatedAt  time.Time
}

// CompiledStep is one resolved step of a compiled plan. WriteSet lists the
// resource keys this step will mutate; the union over all steps is the set
// locked before execution.
type CompiledStep struct {
	Index    int
	Op       string
	Args     ArgMap
	Alias    string
	WriteSet []string
	Mode     ExecutionMode
}

// WriteSetUnion returns the deduplicated union of all steps' write sets, in
// lexicographic order. This ordering is the total lock-acquisition order.
func (p *CompiledPlan) WriteSetUnion() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, step := range p.Steps {
		for _, k := range step.WriteSet {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// GateKind distinguishes why an entry is suspended.
type GateKind string

const (
	// GateScope means a scope must be chosen before the entry can run.
	GateScope GateKind = "scope"
	// GateApproval means a human must approve the entry.
	GateApproval GateKind = "approval"
)

// GateRequest is a suspended entry awaiting external input. Resolving it
// supplies a payload that becomes the entry's arguments, after which the
// entry re-enters compilation.
type GateRequest struct {
	ID         uuid.UUID
	RunbookID  uuid.UUID
	EntryIndex int
	Kind       GateKind
	Prompt     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// OutcomeKind tags an ExecutionOutcome.
type OutcomeKind string

const (
	OutcomeCompleted    OutcomeKind = "completed"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeAwaitingGate OutcomeKind = "awaiting_gate"
)

// ExecutionOutcome is the tagged result of one execution attempt. Suspension
// is data, not control flow: callers must handle AwaitingGate like any other
// outcome.
type ExecutionOutcome struct {
	Kind        OutcomeKind
	RunbookID   uuid.UUID
	PlanVersion int64

	// FailedStep and Error are populated when Kind is OutcomeFailed.
	FailedStep int
	Error      string

	// Resumable is set for durable-mode failures: the failed step pointer
	// is re-entrant and prior durable commits are intact.
	Resumable bool

	// Gate is populated when Kind is OutcomeAwaitingGate.
	Gate *GateRequest

	// Bindings holds the runtime alias bindings produced by executed steps.
	Bindings ArgMap

	// TelemetryDropped is set when the outcome event could not be persisted
	// to the telemetry sink. The primary operation is unaffected.
	TelemetryDropped bool
}
