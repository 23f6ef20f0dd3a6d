package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// ArgSpec describes one declared operation argument.
type ArgSpec struct {
	Name     string
	Required bool
}

// OpSpec is the declared shape of an operation, loaded from the CUE catalog.
type OpSpec struct {
	Name string
	Doc  string
	Args []ArgSpec

	// Writes holds write-set templates such as "entity/{entity-id}".
	// Placeholders interpolate resolved argument values; see ExpandWriteSet.
	Writes []string

	// Gate marks operations that suspend for external input. GateArg names
	// the argument whose presence satisfies the gate: when an entry reaches
	// execution without it, the executor suspends with a GateRequest
	// instead of dispatching.
	Gate    ir.GateKind
	GateArg string
}

// ExecContext carries the execution-side collaborators a handler may use.
// Tx is the attempt's open transaction for sync steps, or a step-scoped
// transaction for durable steps.
type ExecContext struct {
	Tx         *sql.Tx
	RunbookID  uuid.UUID
	EntryIndex int

	// Bindings is a read-only view of the runtime binding table. Handlers
	// receive alias arguments already resolved; this is for handlers that
	// need to inspect sibling outputs.
	Bindings ir.ArgMap
}

// Handler executes one compiled step with fully resolved arguments. The
// returned map contributes the step's runtime outputs; by convention the
// "id" key carries the binding value for the entry's declared alias.
type Handler func(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error)

// Operation pairs a declared spec with its handler.
type Operation struct {
	Spec    OpSpec
	Handler Handler
}

// Registry is the immutable-after-init operation lookup table.
type Registry struct {
	ops map[string]Operation
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds an operation. Registering the same name twice is an error;
// the registry is populated once at startup and never mutated afterwards.
func (r *Registry) Register(op Operation) error {
	if op.Spec.Name == "" {
		return fmt.Errorf("register: operation name is empty")
	}
	if op.Handler == nil {
		return fmt.Errorf("register %q: nil handler", op.Spec.Name)
	}
	if _, exists := r.ops[op.Spec.Name]; exists {
		return fmt.Errorf("register %q: already registered", op.Spec.Name)
	}
	r.ops[op.Spec.Name] = op
	return nil
}

// Lookup returns the operation for a name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names returns all registered operation names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks an entry's arguments against the spec: every required
// argument must be present and no undeclared argument may appear. The gate
// argument is exempt from the required check; its absence suspends
// execution rather than failing compilation.
func (spec *OpSpec) ValidateArgs(args ir.ArgMap) error {
	declared := make(map[string]ArgSpec, len(spec.Args))
	for _, a := range spec.Args {
		declared[a.Name] = a
	}
	for name := range args {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("operation %s: undeclared argument %q", spec.Name, name)
		}
	}
	for _, a := range spec.Args {
		if !a.Required || a.Name == spec.GateArg {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			return fmt.Errorf("operation %s: missing required argument %q", spec.Name, a.Name)
		}
	}
	return nil
}

// AliasKeyFunc maps an alias name to the surrogate resource key used for
// locking when the concrete identifier is only known at execution time. The
// compiler scopes surrogates to the runbook, so distinct runbooks' aliases
// never collide while the producer and all consumers of one alias agree on
// a single key.
type AliasKeyFunc func(alias string) string

// ExpandWriteSet interpolates an operation's write-set templates with the
// entry's arguments. Scalar literals substitute directly; alias references
// substitute through aliasKey. A placeholder naming a missing argument, or
// an argument that has no scalar rendering, is an error.
func ExpandWriteSet(spec *OpSpec, args ir.ArgMap, aliasKey AliasKeyFunc) ([]string, error) {
	keys := make([]string, 0, len(spec.Writes))
	for _, tmpl := range spec.Writes {
		key, err := expandTemplate(spec.Name, tmpl, args, aliasKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func expandTemplate(opName, tmpl string, args ir.ArgMap, aliasKey AliasKeyFunc) (string, error) {
	var sb strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return "", fmt.Errorf("operation %s: malformed write-set template %q", opName, tmpl)
		}
		sb.WriteString(rest[:open])
		placeholder := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		val, ok := args[placeholder]
		if !ok {
			return "", fmt.Errorf("operation %s: write-set template %q references missing argument %q", opName, tmpl, placeholder)
		}
		switch v := val.(type) {
		case ir.AliasRef:
			if aliasKey == nil {
				return "", fmt.Errorf("operation %s: alias %q in write-set without alias resolver", opName, v.Name)
			}
			sb.WriteString(aliasKey(v.Name))
		default:
			s, ok := ir.LiteralString(val)
			if !ok {
				return "", fmt.Errorf("operation %s: argument %q has no scalar rendering for write-set template %q", opName, placeholder, tmpl)
			}
			sb.WriteString(s)
		}
	}
}
