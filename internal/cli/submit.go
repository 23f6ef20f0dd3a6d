package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/compiler"
	"github.com/roach88/prestige/internal/ir"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Database string
	Ref      string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <runbook-file>",
		Short: "Submit runbook entries and compile a plan version",
		Long: `Submit a runbook file and compile it into a persisted plan version.

The file is parsed as the s-expression DSL, or as a YAML entry list when
its extension is .yaml/.yml. Entries append to the runbook identified by
--ref, creating it on first submission. Compilation validates every entry
and either persists a complete plan version or reports all errors with no
partial state.

Example:
  prestige submit --db ./prestige.db --ref CBU-1234 ./onboarding.rb`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "business reference of the runbook (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("ref")

	return cmd
}

// submitResult is the JSON payload for a successful submission.
type submitResult struct {
	RunbookID string `json:"runbook_id"`
	Ref       string `json:"ref"`
	Entries   int    `json:"entries"`
	Version   int64  `json:"version"`
	Steps     int    `json:"steps"`
}

func runSubmit(ctx context.Context, opts *SubmitOptions, path string, out io.Writer) error {
	entries, err := LoadEntries(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load runbook file", err)
	}

	e, err := openEnv(opts.Database, "", 0)
	if err != nil {
		return err
	}
	defer e.close()

	rb, err := e.store.FindRunbookByRef(ctx, opts.Ref)
	if errors.Is(err, sql.ErrNoRows) {
		rb, err = e.store.CreateRunbook(ctx, opts.Ref)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load runbook", err)
	}
	if err := e.store.AppendEntries(ctx, rb.ID, entries); err != nil {
		return WrapExitError(ExitCommandError, "failed to append entries", err)
	}

	plan, err := e.compiler.Compile(ctx, rb.ID)
	if err != nil {
		var cerrs compiler.CompileErrors
		if errors.As(err, &cerrs) {
			f := &Formatter{Format: opts.Format, Writer: out}
			_ = f.Failure(cerrs.Error())
			return NewExitError(ExitFailure, "compilation failed")
		}
		return WrapExitError(ExitCommandError, "failed to compile", err)
	}

	result := submitResult{
		RunbookID: rb.ID.String(),
		Ref:       opts.Ref,
		Entries:   len(entries),
		Version:   plan.Version,
		Steps:     len(plan.Steps),
	}
	f := &Formatter{Format: opts.Format, Writer: out}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Runbook %s (%s)\n", opts.Ref, rb.ID)
		fmt.Fprintf(w, "Appended %d entries, compiled plan version %d (%d steps)\n",
			len(entries), plan.Version, len(plan.Steps))
		printSteps(w, plan.Steps)
	})
}

func printSteps(w io.Writer, steps []ir.CompiledStep) {
	for _, step := range steps {
		alias := ""
		if step.Alias != "" {
			alias = " :as @" + step.Alias
		}
		fmt.Fprintf(w, "  %2d. %s%s [%s] locks %v\n",
			step.Index, step.Op, alias, step.Mode, step.WriteSet)
	}
}
