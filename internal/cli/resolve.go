package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/engine"
	"github.com/roach88/prestige/internal/ir"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Database  string
	Telemetry string
	Args      []string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <gate-id>",
		Short: "Resolve an open gate and resume the runbook",
		Long: `Supply the payload an open gate is waiting for. Resolution updates the
suspended entry, compiles the updated entries into a new plan version, and
resumes execution through the normal pipeline.

Payload values parse as booleans ("true"/"false") and integers before
falling back to strings.

Example:
  prestige resolve 3f1c... --db ./prestige.db --arg approved=true
  prestige resolve 9a42... --db ./prestige.db --arg scope=enhanced`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Telemetry, "telemetry", "", "path to bbolt telemetry sink (optional)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "payload argument as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runResolve(ctx context.Context, opts *ResolveOptions, rawID string, out io.Writer) error {
	gateID, err := uuid.Parse(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid gate id", err)
	}
	payload, err := parsePayload(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}
	if len(payload) == 0 {
		return NewExitError(ExitCommandError, "at least one --arg name=value is required")
	}

	e, err := openEnv(opts.Database, opts.Telemetry, 0)
	if err != nil {
		return err
	}
	defer e.close()

	outcome, err := e.engine.ResolveGate(ctx, gateID, payload)
	if err != nil {
		var gerr *engine.GateUnresolvedError
		if errors.As(err, &gerr) {
			f := &Formatter{Format: opts.Format, Writer: out}
			_ = f.Failure(gerr.Message)
			return NewExitError(ExitFailure, "gate not resolved")
		}
		return WrapExitError(ExitCommandError, "failed to resolve gate", err)
	}

	return printOutcome(opts.Format, out, outcome)
}

// parsePayload converts repeated name=value flags into an argument map.
func parsePayload(raw []string) (ir.ArgMap, error) {
	payload := ir.ArgMap{}
	for _, pair := range raw {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", pair)
		}
		payload[name] = parseScalar(value)
	}
	return payload, nil
}

func parseScalar(s string) ir.ArgValue {
	switch s {
	case "true":
		return ir.ArgBool(true)
	case "false":
		return ir.ArgBool(false)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ir.ArgInt(n)
	}
	return ir.ArgString(s)
}
