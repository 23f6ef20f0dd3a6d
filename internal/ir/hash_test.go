package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFixture(op string, args ArgMap, alias string) RunbookEntry {
	return RunbookEntry{Op: op, Args: args, Alias: alias, Mode: ModeSync, Status: EntryPending}
}

func TestEntriesHashStable(t *testing.T) {
	entries := []RunbookEntry{
		entryFixture("entity.create", ArgMap{"name": ArgString("John")}, "e"),
		entryFixture("entity.assign-role", ArgMap{"entity": AliasRef{Name: "e"}, "role": ArgString("Director")}, ""),
	}

	h1, err := EntriesHash(entries)
	require.NoError(t, err)
	h2, err := EntriesHash(entries)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestEntriesHashIgnoresStatus(t *testing.T) {
	a := []RunbookEntry{entryFixture("entity.create", ArgMap{"name": ArgString("John")}, "e")}
	b := []RunbookEntry{entryFixture("entity.create", ArgMap{"name": ArgString("John")}, "e")}
	b[0].Status = EntryExecuted

	ha, err := EntriesHash(a)
	require.NoError(t, err)
	hb, err := EntriesHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "status must not affect the content hash")
}

func TestEntriesHashSensitiveToArgsAndOrder(t *testing.T) {
	base := []RunbookEntry{
		entryFixture("entity.create", ArgMap{"name": ArgString("John")}, "e"),
		entryFixture("kyc.start", ArgMap{}, ""),
	}
	hBase, err := EntriesHash(base)
	require.NoError(t, err)

	changedArg := []RunbookEntry{
		entryFixture("entity.create", ArgMap{"name": ArgString("Jane")}, "e"),
		entryFixture("kyc.start", ArgMap{}, ""),
	}
	hArg, err := EntriesHash(changedArg)
	require.NoError(t, err)
	assert.NotEqual(t, hBase, hArg)

	reordered := []RunbookEntry{base[1], base[0]}
	hOrder, err := EntriesHash(reordered)
	require.NoError(t, err)
	assert.NotEqual(t, hBase, hOrder)
}

func TestEntriesHashSensitiveToMode(t *testing.T) {
	a := []RunbookEntry{entryFixture("kyc.start", ArgMap{}, "")}
	b := []RunbookEntry{entryFixture("kyc.start", ArgMap{}, "")}
	b[0].Mode = ModeDurable

	ha, err := EntriesHash(a)
	require.NoError(t, err)
	hb, err := EntriesHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestPlanHashDomainSeparation(t *testing.T) {
	steps := []CompiledStep{{Op: "entity.create", Args: ArgMap{"name": ArgString("x")}, Mode: ModeSync}}
	h1, err := PlanHash("rb", 1, steps)
	require.NoError(t, err)
	h2, err := PlanHash("rb", 2, steps)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "version participates in the plan hash")
}
