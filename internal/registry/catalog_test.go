package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prestige/internal/ir"
)

func TestCompileCatalogStringMinimal(t *testing.T) {
	specs, err := CompileCatalogString(`
operations: "entity.create": {
	doc: "Create a business entity"
	args: {
		name: {required: true}
		kind: {}
	}
	writes: ["entity/{name}"]
}
`)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "entity.create", spec.Name)
	assert.Equal(t, "Create a business entity", spec.Doc)
	assert.Equal(t, []string{"entity/{name}"}, spec.Writes)
	require.Len(t, spec.Args, 2)
	assert.Equal(t, ArgSpec{Name: "kind", Required: false}, spec.Args[0])
	assert.Equal(t, ArgSpec{Name: "name", Required: true}, spec.Args[1])
}

func TestCompileCatalogStringGateOperation(t *testing.T) {
	specs, err := CompileCatalogString(`
operations: "kyc.approve": {
	gate:     "approval"
	gate_arg: "approved"
	args: {
		"case":   {required: true}
		approved: {}
	}
	writes: ["case/{case}/kyc"]
}
`)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, ir.GateApproval, specs[0].Gate)
	assert.Equal(t, "approved", specs[0].GateArg)
}

func TestCompileCatalogStringErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing operations struct", `ops: {}`},
		{"empty operations", `operations: {}`},
		{"unknown gate kind", `operations: "x.y": {gate: "vibes", gate_arg: "a", args: a: {}}`},
		{"gate without gate_arg", `operations: "x.y": {gate: "approval", args: a: {}}`},
		{"gate_arg not declared", `operations: "x.y": {gate: "approval", gate_arg: "nope", args: a: {}}`},
		{"writes not a list", `operations: "x.y": {writes: "entity/{a}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCatalogString(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestOnboardingRegistryBinds(t *testing.T) {
	reg, err := Onboarding()
	require.NoError(t, err)

	names := reg.Names()
	assert.Contains(t, names, "entity.create")
	assert.Contains(t, names, "kyc.approve")
	assert.Contains(t, names, "scope.select")

	op, ok := reg.Lookup("kyc.approve")
	require.True(t, ok)
	assert.Equal(t, ir.GateApproval, op.Spec.Gate)
	assert.NotNil(t, op.Handler)
}

func TestBindRejectsMissingHandler(t *testing.T) {
	specs := []OpSpec{{Name: "ghost.op"}}
	_, err := Bind(specs, map[string]Handler{})
	assert.ErrorContains(t, err, "no handler")
}
