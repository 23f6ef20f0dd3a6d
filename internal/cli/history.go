package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Events   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <business-ref>",
		Short: "Show a runbook's plan versions and audit trail",
		Long: `Show a runbook's status, entries, persisted plan versions, and (with
--events) its full audit trail.

Example:
  prestige history --db ./prestige.db CBU-1234
  prestige history --db ./prestige.db CBU-1234 --events`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include the audit event log")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// historyResult is the JSON payload for the history command.
type historyResult struct {
	RunbookID string                  `json:"runbook_id"`
	Ref       string                  `json:"ref"`
	Status    string                  `json:"status"`
	Entries   []historyEntry          `json:"entries"`
	Versions  []store.PlanVersionInfo `json:"versions"`
	Events    []historyEvent          `json:"events,omitempty"`
}

type historyEntry struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Alias  string `json:"alias,omitempty"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

type historyEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`
}

func runHistory(ctx context.Context, opts *HistoryOptions, ref string, out io.Writer) error {
	e, err := openEnv(opts.Database, "", 0)
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

	versions, err := e.store.ListPlanVersions(ctx, rb.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list plan versions", err)
	}

	result := historyResult{
		RunbookID: rb.ID.String(),
		Ref:       rb.BusinessRef,
		Status:    string(rb.Status),
		Versions:  versions,
	}
	for _, entry := range rb.Entries {
		result.Entries = append(result.Entries, historyEntry{
			Seq:    entry.Seq,
			Op:     entry.Op,
			Alias:  entry.Alias,
			Mode:   string(entry.Mode),
			Status: string(entry.Status),
		})
	}

	var events []store.Event
	if opts.Events {
		events, err = e.store.ListEvents(ctx, rb.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list events", err)
		}
		for _, ev := range events {
			result.Events = append(result.Events, historyEvent{Seq: ev.Seq, Kind: ev.Kind})
		}
	}

	f := &Formatter{Format: opts.Format, Writer: out}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Runbook %s (%s) status=%s\n", rb.BusinessRef, rb.ID, rb.Status)
		fmt.Fprintln(w, "Entries:")
		for _, entry := range rb.Entries {
			printHistoryEntry(w, entry)
		}
		fmt.Fprintln(w, "Plan versions:")
		for _, v := range versions {
			fmt.Fprintf(w, "  v%-3d %d steps  source=%.12s  created %s\n",
				v.Version, v.StepCount, v.SourceHash, v.CreatedAt)
		}
		if opts.Events {
			fmt.Fprintln(w, "Events:")
			for _, ev := range events {
				fmt.Fprintf(w, "  %4d  %s\n", ev.Seq, ev.Kind)
			}
		}
	})
}

func printHistoryEntry(w io.Writer, entry ir.RunbookEntry) {
	alias := ""
	if entry.Alias != "" {
		alias = " :as @" + entry.Alias
	}
	fmt.Fprintf(w, "  %2d. %s%s [%s] %s\n", entry.Seq, entry.Op, alias, entry.Mode, entry.Status)
}
