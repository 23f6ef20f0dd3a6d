package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/prestige/internal/registry"
)

// OpsOptions holds flags for the ops command.
type OpsOptions struct {
	*RootOptions
	Catalog string
}

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the operation catalog",
		Long: `List the operations runbook entries can call: their arguments,
write-set templates, and gates. With --catalog, validate and list an
external CUE catalog file instead of the built-in one.

Example:
  prestige ops
  prestige ops --catalog ./custom-catalog.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to a CUE operation catalog (optional)")

	return cmd
}

// opRow is the JSON shape of one catalog operation.
type opRow struct {
	Name    string   `json:"name"`
	Doc     string   `json:"doc,omitempty"`
	Args    []argRow `json:"args,omitempty"`
	Writes  []string `json:"writes,omitempty"`
	Gate    string   `json:"gate,omitempty"`
	GateArg string   `json:"gate_arg,omitempty"`
}

type argRow struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

func runOps(opts *OpsOptions, out io.Writer) error {
	specs, err := loadCatalogSpecs(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	rows := make([]opRow, 0, len(specs))
	for _, spec := range specs {
		row := opRow{
			Name:    spec.Name,
			Doc:     spec.Doc,
			Writes:  spec.Writes,
			Gate:    string(spec.Gate),
			GateArg: spec.GateArg,
		}
		for _, a := range spec.Args {
			row.Args = append(row.Args, argRow{Name: a.Name, Required: a.Required})
		}
		rows = append(rows, row)
	}

	f := &Formatter{Format: opts.Format, Writer: out}
	return f.Success(rows, func(w io.Writer) {
		for _, spec := range specs {
			printOpSpec(w, spec)
		}
	})
}

// loadCatalogSpecs picks between the built-in catalog and an external file.
func loadCatalogSpecs(path string) ([]registry.OpSpec, error) {
	if path == "" {
		reg, err := registry.Onboarding()
		if err != nil {
			return nil, err
		}
		specs := make([]registry.OpSpec, 0)
		for _, name := range reg.Names() {
			op, _ := reg.Lookup(name)
			specs = append(specs, op.Spec)
		}
		return specs, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return registry.CompileCatalogString(string(src))
}

func printOpSpec(w io.Writer, spec registry.OpSpec) {
	fmt.Fprintf(w, "%s", spec.Name)
	if spec.Gate != "" {
		fmt.Fprintf(w, "  [gate: %s via %q]", spec.Gate, spec.GateArg)
	}
	fmt.Fprintln(w)
	if spec.Doc != "" {
		fmt.Fprintf(w, "    %s\n", spec.Doc)
	}
	for _, a := range spec.Args {
		req := "optional"
		if a.Required {
			req = "required"
		}
		fmt.Fprintf(w, "    :%s (%s)\n", a.Name, req)
	}
	for _, tmpl := range spec.Writes {
		fmt.Fprintf(w, "    writes %s\n", tmpl)
	}
}
