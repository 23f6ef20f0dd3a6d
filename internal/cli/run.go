package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/lock"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Telemetry   string
	LockTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <business-ref>",
		Short: "Compile and execute a runbook",
		Long: `Compile the runbook's current entries and execute the persisted plan.

Execution acquires advisory locks on the plan's write set, runs steps in
order, and finishes as completed, failed, or awaiting a gate. A suspended
runbook prints its open gate request; resolve it with 'prestige resolve'.

Example:
  prestige run --db ./prestige.db CBU-1234`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Telemetry, "telemetry", "", "path to bbolt telemetry sink (optional)")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", 10*time.Second, "how long to wait for contended locks")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// runResult is the JSON payload for an execution attempt.
type runResult struct {
	RunbookID        string `json:"runbook_id"`
	Version          int64  `json:"version"`
	Outcome          string `json:"outcome"`
	FailedStep       *int   `json:"failed_step,omitempty"`
	Error            string `json:"error,omitempty"`
	Resumable        bool   `json:"resumable,omitempty"`
	GateID           string `json:"gate_id,omitempty"`
	GatePrompt       string `json:"gate_prompt,omitempty"`
	TelemetryDropped bool   `json:"telemetry_dropped,omitempty"`
}

func runExecute(ctx context.Context, opts *RunOptions, ref string, out io.Writer) error {
	e, err := openEnv(opts.Database, opts.Telemetry, opts.LockTimeout)
	if err != nil {
		return err
	}
	defer e.close()

	rb, err := e.store.FindRunbookByRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("no runbook with ref %q", ref))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load runbook", err)
	}

	plan, err := e.compiler.Compile(ctx, rb.ID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compile", err)
	}

	outcome, err := e.engine.Execute(ctx, rb.ID, plan.Version)
	if err != nil {
		var ce *lock.ContentionError
		if errors.As(err, &ce) {
			return WrapExitError(ExitFailure, "lock contention", err)
		}
		return WrapExitError(ExitCommandError, "execution error", err)
	}

	return printOutcome(opts.Format, out, outcome)
}

func printOutcome(format string, out io.Writer, outcome ir.ExecutionOutcome) error {
	result := runResult{
		RunbookID:        outcome.RunbookID.String(),
		Version:          outcome.PlanVersion,
		Outcome:          string(outcome.Kind),
		TelemetryDropped: outcome.TelemetryDropped,
	}
	switch outcome.Kind {
	case ir.OutcomeFailed:
		step := outcome.FailedStep
		result.FailedStep = &step
		result.Error = outcome.Error
		result.Resumable = outcome.Resumable
	case ir.OutcomeAwaitingGate:
		result.GateID = outcome.Gate.ID.String()
		result.GatePrompt = outcome.Gate.Prompt
	}

	f := &Formatter{Format: format, Writer: out}
	err := f.Success(result, func(w io.Writer) {
		switch outcome.Kind {
		case ir.OutcomeCompleted:
			fmt.Fprintf(w, "Completed: runbook %s, plan version %d\n", outcome.RunbookID, outcome.PlanVersion)
		case ir.OutcomeFailed:
			fmt.Fprintf(w, "Failed at step %d: %s\n", outcome.FailedStep, outcome.Error)
			if outcome.Resumable {
				fmt.Fprintln(w, "The failed step is durable; prior durable commits are intact.")
			}
		case ir.OutcomeAwaitingGate:
			fmt.Fprintf(w, "Awaiting gate %s (%s)\n", outcome.Gate.ID, outcome.Gate.Kind)
			fmt.Fprintf(w, "  %s\n", outcome.Gate.Prompt)
			fmt.Fprintf(w, "Resolve with: prestige resolve %s --arg <name>=<value>\n", outcome.Gate.ID)
		}
		if outcome.TelemetryDropped {
			fmt.Fprintln(w, "Warning: telemetry record was dropped.")
		}
	})
	if err != nil {
		return err
	}
	if outcome.Kind == ir.OutcomeFailed {
		return NewExitError(ExitFailure, "run failed")
	}
	return nil
}
