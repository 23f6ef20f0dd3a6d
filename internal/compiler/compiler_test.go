package compiler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prestige/internal/ir"
	"github.com/roach88/prestige/internal/registry"
	"github.com/roach88/prestige/internal/store"
)

func newTestCompiler(t *testing.T) (*Compiler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg, err := registry.Onboarding()
	require.NoError(t, err)

	return New(s, reg), s
}

func entry(op, alias string, args ir.ArgMap) ir.RunbookEntry {
	if args == nil {
		args = ir.ArgMap{}
	}
	return ir.RunbookEntry{
		ID:     uuid.New(),
		Op:     op,
		Args:   args,
		Alias:  alias,
		Mode:   ir.ModeSync,
		Status: ir.EntryPending,
	}
}

func onboardingEntries() []ir.RunbookEntry {
	return []ir.RunbookEntry{
		entry("case.create", "case", ir.ArgMap{
			"business-ref": ir.ArgString("CBU-1234"),
		}),
		entry("entity.create", "john", ir.ArgMap{
			"name": ir.ArgString("John Smith"),
			"kind": ir.ArgKeyword("company"),
		}),
		entry("entity.assign-role", "", ir.ArgMap{
			"entity": ir.AliasRef{Name: "john"},
			"role":   ir.ArgKeyword("DIRECTOR"),
			"case":   ir.AliasRef{Name: "case"},
		}),
	}
}

func TestCompile_ProducesPersistedPlan(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1234")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, onboardingEntries()))

	plan, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), plan.Version)
	require.Len(t, plan.Steps, 3)

	// Literal arguments expand directly; alias arguments expand to
	// runbook-scoped surrogate keys.
	assert.Equal(t, []string{"case/CBU-1234"}, plan.Steps[0].WriteSet)
	assert.Equal(t, []string{"entity/" + rb.ID.String() + "/@john"}, plan.Steps[2].WriteSet)

	// The plan is persisted, not just returned.
	stored, err := s.GetPlan(ctx, rb.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, plan.SourceHash, stored.SourceHash)
	require.Len(t, stored.Steps, 3)

	got, err := s.GetRunbook(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCompiled, got.Status)
	assert.Equal(t, int64(2), got.NextVersion)

	events, err := s.ListEvents(ctx, rb.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.EventCompiled, events[0].Kind)
}

func TestCompile_UnchangedEntriesReuseVersion(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, onboardingEntries()))

	first, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)

	second, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	got, err := s.GetRunbook(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.NextVersion, "reuse must not burn a version")
}

func TestCompile_AppendedEntriesGetNewVersion(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, onboardingEntries()))

	first, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("kyc.start", "", ir.ArgMap{"case": ir.AliasRef{Name: "case"}}),
	}))

	second, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Len(t, second.Steps, 4)
}

func TestCompile_UnknownOperation(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("case.destroy", "", ir.ArgMap{"business-ref": ir.ArgString("CBU-1")}),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)
	assertCompileCode(t, err, ErrUnknownOperation)
}

func TestCompile_InvalidArguments(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		// Missing required business-ref, plus an undeclared argument.
		entry("case.create", "", ir.ArgMap{"color": ir.ArgString("blue")}),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)
	assertCompileCode(t, err, ErrInvalidArguments)
}

func TestCompile_UnknownBinding(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("entity.assign-role", "", ir.ArgMap{
			"entity": ir.AliasRef{Name: "ghost"},
			"role":   ir.ArgKeyword("DIRECTOR"),
		}),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)
	assertCompileCode(t, err, ErrUnknownBinding)
}

func TestCompile_ForwardReference(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		// Uses @john before the entry that produces it.
		entry("entity.assign-role", "", ir.ArgMap{
			"entity": ir.AliasRef{Name: "john"},
			"role":   ir.ArgKeyword("DIRECTOR"),
		}),
		entry("entity.create", "john", ir.ArgMap{
			"name": ir.ArgString("John Smith"),
		}),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)
	assertCompileCode(t, err, ErrCyclicBinding)
}

func TestCompile_FailureHasNoSideEffects(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("case.destroy", "", nil),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)

	got, err := s.GetRunbook(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusDraft, got.Status, "failed compile must not transition status")
	assert.Equal(t, int64(1), got.NextVersion, "failed compile must not consume a version")

	latest, err := s.LatestPlanVersion(ctx, rb.ID)
	require.NoError(t, err)
	assert.Zero(t, latest, "failed compile must not persist a plan")
}

func TestCompile_GateArgMayBeAbsent(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("case.create", "case", ir.ArgMap{"business-ref": ir.ArgString("CBU-1")}),
		// approved is the gate argument; compilation accepts its absence.
		entry("kyc.approve", "", ir.ArgMap{"case": ir.AliasRef{Name: "case"}}),
	}))

	plan, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
}

func TestCompile_DurableBehindSyncWork(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	durable := entry("case.create", "", ir.ArgMap{"business-ref": ir.ArgString("CBU-1")})
	durable.Mode = ir.ModeDurable
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("entity.create", "e", ir.ArgMap{"name": ir.ArgString("Acme")}),
		// A durable commit here would carry the pending entity insert with
		// it, so the ordering is rejected up front.
		durable,
		entry("document.use", "", ir.ArgMap{"document": ir.ArgString(uuid.NewString())}),
	}))

	_, err = c.Compile(ctx, rb.ID)
	require.Error(t, err)
	assertCompileCode(t, err, ErrModeOrdering)

	got, err := s.GetRunbook(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusDraft, got.Status)
}

func TestCompile_ExecutedEntriesRelaxModeOrder(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	durable := entry("kyc.start", "", ir.ArgMap{"case": ir.ArgString("CBU-1")})
	durable.Mode = ir.ModeDurable
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("case.create", "", ir.ArgMap{"business-ref": ir.ArgString("CBU-1")}),
		durable,
	}))

	// An entry a previous attempt already executed never re-runs, so it
	// leaves no pending sync work for the durable entry to trip over.
	got, err := s.GetRunbook(ctx, rb.ID)
	require.NoError(t, err)
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetEntryStatusTx(ctx, tx, got.Entries[0].ID, ir.EntryExecuted))
	require.NoError(t, tx.Commit())

	plan, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
}

func TestCompile_TerminalRunbookNeedsAppend(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("case.create", "", ir.ArgMap{"business-ref": ir.ArgString("CBU-1")}),
	}))
	_, err = c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, rb.ID, ir.StatusCompiled, ir.StatusExecuting))
	require.NoError(t, s.SetStatus(ctx, rb.ID, ir.StatusExecuting, ir.StatusFailed))

	// A failed runbook has no edge back to Compiled; the error names the
	// resume path instead of surfacing a raw transition violation.
	_, err = c.Compile(ctx, rb.ID)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, ir.StatusFailed, stateErr.Status)
	assert.Contains(t, stateErr.Error(), "append entries")

	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("kyc.start", "", ir.ArgMap{"case": ir.ArgString("CBU-1")}),
	}))
	plan, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), plan.Version)
}

func TestCompile_BoundAliasLocksConcreteResource(t *testing.T) {
	c, s := newTestCompiler(t)
	ctx := context.Background()

	rb, err := s.CreateRunbook(ctx, "CBU-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("entity.create", "e", ir.ArgMap{"name": ir.ArgString("Acme")}),
		entry("entity.assign-role", "", ir.ArgMap{
			"entity": ir.AliasRef{Name: "e"},
			"role":   ir.ArgKeyword("DIRECTOR"),
		}),
	}))

	// Before any attempt runs, the consumer locks a runbook-scoped
	// surrogate for @e.
	surrogate := "entity/" + rb.ID.String() + "/@e"
	plan, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Contains(t, plan.Steps[1].WriteSet, surrogate)

	// Once an attempt has bound @e, recompiled versions lock the concrete
	// entity so they contend with runbooks addressing it by identifier.
	entityID := uuid.NewString()
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SaveBindingTx(ctx, tx, rb.ID, "e", ir.ArgString(entityID)))
	require.NoError(t, tx.Commit())

	require.NoError(t, s.AppendEntries(ctx, rb.ID, []ir.RunbookEntry{
		entry("attribute.set", "", ir.ArgMap{
			"entity":    ir.AliasRef{Name: "e"},
			"attribute": ir.ArgString("lei"),
			"value":     ir.ArgString("969500KN90DZ"),
		}),
	}))
	resumed, err := c.Compile(ctx, rb.ID)
	require.NoError(t, err)
	assert.Contains(t, resumed.Steps[1].WriteSet, "entity/"+entityID)
	assert.Contains(t, resumed.Steps[2].WriteSet, "entity/"+entityID)
	assert.NotContains(t, resumed.Steps[2].WriteSet, surrogate)
}

func assertCompileCode(t *testing.T, err error, code string) {
	t.Helper()
	var errs CompileErrors
	require.ErrorAs(t, err, &errs)
	for _, e := range errs {
		if e.Code == code {
			return
		}
	}
	t.Errorf("no compile error with code %s in %v", code, errs)
}
