package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_ShowsVersionsAndEntries(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `
(case.create :business-ref "CBU-1" :as @c)
(kyc.start :case @c)
`)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)

	out, err := execCommand(t, NewHistoryCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "status=completed")
	assert.Contains(t, out, "case.create :as @c")
	assert.Contains(t, out, "v1")
	assert.Contains(t, out, "2 steps")
}

func TestHistory_EventsFlag(t *testing.T) {
	db := testDB(t)
	submitFlow(t, db, "CBU-1", `(case.create :business-ref "CBU-1" :as @c)`)
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewRunCommand(rootOpts), "CBU-1", "--db", db)
	require.NoError(t, err)

	out, err := execCommand(t, NewHistoryCommand(rootOpts), "CBU-1", "--db", db, "--events")
	require.NoError(t, err)
	assert.Contains(t, out, "compiled")
	assert.Contains(t, out, "lock_acquired")
	assert.Contains(t, out, "run_completed")
}

func TestHistory_UnknownRef(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	_, err := execCommand(t, NewHistoryCommand(rootOpts), "NOPE", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
