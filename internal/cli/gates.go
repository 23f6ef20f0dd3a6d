package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/ir"
)

// GatesOptions holds flags for the gates command.
type GatesOptions struct {
	*RootOptions
	Database string
	Ref      string
}

// NewGatesCommand creates the gates command.
func NewGatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gates",
		Short: "List open gate requests",
		Long: `List gate requests still waiting for resolution, across all runbooks
or scoped to one with --ref.

Example:
  prestige gates --db ./prestige.db
  prestige gates --db ./prestige.db --ref CBU-1234`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGates(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "limit to one runbook's business reference")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// gateRow is the JSON shape of one open gate.
type gateRow struct {
	ID         string `json:"id"`
	RunbookID  string `json:"runbook_id"`
	EntryIndex int    `json:"entry_index"`
	Kind       string `json:"kind"`
	Prompt     string `json:"prompt"`
	CreatedAt  string `json:"created_at"`
}

func runGates(ctx context.Context, opts *GatesOptions, out io.Writer) error {
	e, err := openEnv(opts.Database, "", 0)
	if err != nil {
		return err
	}
	defer e.close()

	scope := uuid.Nil
	if opts.Ref != "" {
		rb, err := e.store.FindRunbookByRef(ctx, opts.Ref)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("no runbook with ref %q", opts.Ref))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load runbook", err)
		}
		scope = rb.ID
	}

	open, err := e.store.ListOpenGateRequests(ctx, scope)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list gate requests", err)
	}

	rows := make([]gateRow, 0, len(open))
	for _, g := range open {
		rows = append(rows, gateRow{
			ID:         g.ID.String(),
			RunbookID:  g.RunbookID.String(),
			EntryIndex: g.EntryIndex,
			Kind:       string(g.Kind),
			Prompt:     g.Prompt,
			CreatedAt:  g.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	f := &Formatter{Format: opts.Format, Writer: out}
	return f.Success(rows, func(w io.Writer) {
		if len(open) == 0 {
			fmt.Fprintln(w, "No open gates.")
			return
		}
		printGateTable(w, open)
	})
}

func printGateTable(w io.Writer, gates []ir.GateRequest) {
	for _, g := range gates {
		fmt.Fprintf(w, "%s  [%s]  entry %d  %s\n", g.ID, g.Kind, g.EntryIndex, g.Prompt)
	}
}
