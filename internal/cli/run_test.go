package cli

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitFlow(t *testing.T, db, ref, src string) {
	t.Helper()
	file := writeTempFile(t, "flow.rb", src)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewSubmitCommand(rootOpts), file, "--db", db, "--ref", ref)
	require.NoError(t, err)
}

func TestRun_Completes(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `
(case.create :business-ref "CBU-1" :as @c)
(kyc.start :case @c)
`)

	rootOpts := &RootOptions{Format: "text"}
	out, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")
}

func TestRun_UnknownRef(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewRunCommand(rootOpts), "NOPE", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `
(document.use :document "00000000-0000-0000-0000-000000000000")
`)

	rootOpts := &RootOptions{Format: "text"}
	out, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Failed at step 0")
}

func TestRun_WritesTelemetrySink(t *testing.T) {
	db := testDB(t)
	sinkPath := testDB(t) + ".telemetry"
	submitFlow(t, db, "CBU-1", `(case.create :business-ref "CBU-1" :as @c)`)

	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db, "--telemetry", sinkPath)
	require.NoError(t, err)
}

var gateIDPattern = regexp.MustCompile(`gate ([0-9a-f-]{36})`)

func TestRunAndResolve_GateFlow(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `
(case.create :business-ref "CBU-1" :as @c)
(kyc.start :case @c)
(kyc.approve :case @c)
`)

	rootOpts := &RootOptions{Format: "text"}
	out, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Awaiting gate")

	m := gateIDPattern.FindStringSubmatch(out)
	require.NotNil(t, m, "output did not name the gate: %s", out)
	gateID := m[1]

	// The gate shows up in the listing until resolved.
	out, err = execCommand(t, NewGatesCommand(rootOpts), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, gateID)

	out, err = execCommand(t, NewResolveCommand(rootOpts), gateID, "--db", db, "--arg", "approved=true")
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")

	out, err = execCommand(t, NewGatesCommand(rootOpts), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No open gates")
}

func TestResolve_MissingPayload(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewResolveCommand(rootOpts),
		"00000000-0000-0000-0000-000000000000", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestResolve_InvalidGateID(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewResolveCommand(rootOpts),
		"not-a-uuid", "--db", testDB(t), "--arg", "approved=true")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGates_JSONOutput(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `
(case.create :business-ref "CBU-1" :as @c)
(scope.select :case @c)
`)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)

	jsonOpts := &RootOptions{Format: "json"}
	out, err := execCommand(t, NewGatesCommand(jsonOpts), "--db", db)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	gate, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "scope", gate["kind"])
}
