package registry

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/prestige/internal/ir"
)

// CatalogError reports a problem in a CUE catalog definition.
type CatalogError struct {
	Op      string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CatalogError) Error() string {
	where := e.Op
	if e.Field != "" {
		where = e.Op + "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: catalog %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), where, e.Message)
	}
	return fmt.Sprintf("catalog %s: %s", where, e.Message)
}

// LoadCatalog loads operation specs from the CUE files in a directory.
// The catalog declares an "operations" struct keyed by operation name:
//
//	operations: "entity.create": {
//		doc: "Create a business entity"
//		args: name: required: true
//		writes: ["entity/{name}"]
//	}
func LoadCatalog(dir string) ([]OpSpec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog path %s is not a directory", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("catalog %s: no CUE instances loaded", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("catalog %s: %w", dir, inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", dir, err)
	}

	return CompileCatalog(value)
}

// CompileCatalogString parses catalog CUE source text. Used by tests and by
// callers embedding a default catalog.
func CompileCatalogString(src string) ([]OpSpec, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("catalog source: %w", err)
	}
	return CompileCatalog(value)
}

// CompileCatalog parses a built CUE value into operation specs.
func CompileCatalog(v cue.Value) ([]OpSpec, error) {
	opsVal := v.LookupPath(cue.ParsePath("operations"))
	if !opsVal.Exists() {
		return nil, &CatalogError{Op: "operations", Message: "operations struct is required", Pos: v.Pos()}
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("catalog operations: %w", err)
	}

	var specs []OpSpec
	for iter.Next() {
		name := fieldLabel(iter.Selector())
		spec, err := compileOpSpec(name, iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	if len(specs) == 0 {
		return nil, &CatalogError{Op: "operations", Message: "at least one operation is required", Pos: opsVal.Pos()}
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func fieldLabel(sel cue.Selector) string {
	if sel.IsString() {
		return sel.Unquoted()
	}
	return sel.String()
}

func compileOpSpec(name string, v cue.Value) (*OpSpec, error) {
	spec := &OpSpec{Name: name}

	if docVal := v.LookupPath(cue.ParsePath("doc")); docVal.Exists() {
		doc, err := docVal.String()
		if err != nil {
			return nil, &CatalogError{Op: name, Field: "doc", Message: err.Error(), Pos: docVal.Pos()}
		}
		spec.Doc = doc
	}

	if argsVal := v.LookupPath(cue.ParsePath("args")); argsVal.Exists() {
		argIter, err := argsVal.Fields()
		if err != nil {
			return nil, &CatalogError{Op: name, Field: "args", Message: err.Error(), Pos: argsVal.Pos()}
		}
		for argIter.Next() {
			arg := ArgSpec{Name: fieldLabel(argIter.Selector())}
			if reqVal := argIter.Value().LookupPath(cue.ParsePath("required")); reqVal.Exists() {
				required, err := reqVal.Bool()
				if err != nil {
					return nil, &CatalogError{Op: name, Field: "args." + arg.Name, Message: err.Error(), Pos: reqVal.Pos()}
				}
				arg.Required = required
			}
			spec.Args = append(spec.Args, arg)
		}
		sort.Slice(spec.Args, func(i, j int) bool { return spec.Args[i].Name < spec.Args[j].Name })
	}

	if writesVal := v.LookupPath(cue.ParsePath("writes")); writesVal.Exists() {
		listIter, err := writesVal.List()
		if err != nil {
			return nil, &CatalogError{Op: name, Field: "writes", Message: "writes must be a list of templates", Pos: writesVal.Pos()}
		}
		for listIter.Next() {
			tmpl, err := listIter.Value().String()
			if err != nil {
				return nil, &CatalogError{Op: name, Field: "writes", Message: err.Error(), Pos: listIter.Value().Pos()}
			}
			spec.Writes = append(spec.Writes, tmpl)
		}
	}

	if gateVal := v.LookupPath(cue.ParsePath("gate")); gateVal.Exists() {
		gate, err := gateVal.String()
		if err != nil {
			return nil, &CatalogError{Op: name, Field: "gate", Message: err.Error(), Pos: gateVal.Pos()}
		}
		switch ir.GateKind(gate) {
		case ir.GateScope, ir.GateApproval:
			spec.Gate = ir.GateKind(gate)
		default:
			return nil, &CatalogError{Op: name, Field: "gate", Message: fmt.Sprintf("unknown gate kind %q", gate), Pos: gateVal.Pos()}
		}

		gateArgVal := v.LookupPath(cue.ParsePath("gate_arg"))
		if !gateArgVal.Exists() {
			return nil, &CatalogError{Op: name, Field: "gate_arg", Message: "gate operations must declare gate_arg", Pos: gateVal.Pos()}
		}
		gateArg, err := gateArgVal.String()
		if err != nil {
			return nil, &CatalogError{Op: name, Field: "gate_arg", Message: err.Error(), Pos: gateArgVal.Pos()}
		}
		declared := false
		for _, a := range spec.Args {
			if a.Name == gateArg {
				declared = true
			}
		}
		if !declared {
			return nil, &CatalogError{Op: name, Field: "gate_arg", Message: fmt.Sprintf("gate_arg %q is not a declared argument", gateArg), Pos: gateArgVal.Pos()}
		}
		spec.GateArg = gateArg
	}

	return spec, nil
}
