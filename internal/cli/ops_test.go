package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOps_BuiltinCatalog(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	out, err := execCommand(t, NewOpsCommand(rootOpts))
	require.NoError(t, err)

	assert.Contains(t, out, "case.create")
	assert.Contains(t, out, ":business-ref (required)")
	assert.Contains(t, out, "kyc.approve  [gate: approval via \"approved\"]")
	assert.Contains(t, out, "writes case/{case}/kyc")
}

func TestOps_ExternalCatalog(t *testing.T) {
	path := writeTempFile(t, "catalog.cue", `
operations: "widget.create": {
	doc: "Create a widget"
	args: name: {required: true}
	writes: ["widget/{name}"]
}
`)
	rootOpts := &RootOptions{Format: "json"}
	out, err := execCommand(t, NewOpsCommand(rootOpts), "--catalog", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	op, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget.create", op["name"])
}

func TestOps_InvalidCatalog(t *testing.T) {
	path := writeTempFile(t, "bad.cue", `operations: "x": {gate: "nope"}`)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewOpsCommand(rootOpts), "--catalog", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
