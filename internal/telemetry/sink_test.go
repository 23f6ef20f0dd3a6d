package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prestige/internal/ir"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmitOutcome_RoundTrip(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	rbID := uuid.New()

	require.NoError(t, sink.EmitOutcome(ctx, &ir.ExecutionOutcome{
		Kind:        ir.OutcomeCompleted,
		RunbookID:   rbID,
		PlanVersion: 1,
	}))
	require.NoError(t, sink.EmitOutcome(ctx, &ir.ExecutionOutcome{
		Kind:        ir.OutcomeFailed,
		RunbookID:   rbID,
		PlanVersion: 2,
		FailedStep:  3,
		Error:       "document missing",
		Resumable:   true,
	}))

	recs, err := sink.Outcomes(rbID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, ir.OutcomeCompleted, recs[0].Kind)
	assert.Equal(t, int64(1), recs[0].PlanVersion)
	assert.False(t, recs[0].RecordedAt.IsZero())

	assert.Equal(t, ir.OutcomeFailed, recs[1].Kind)
	assert.Equal(t, 3, recs[1].FailedStep)
	assert.Equal(t, "document missing", recs[1].Error)
	assert.True(t, recs[1].Resumable)
}

func TestEmitOutcome_RecordsGateID(t *testing.T) {
	sink := newTestSink(t)
	gateID := uuid.New()
	rbID := uuid.New()

	require.NoError(t, sink.EmitOutcome(context.Background(), &ir.ExecutionOutcome{
		Kind:        ir.OutcomeAwaitingGate,
		RunbookID:   rbID,
		PlanVersion: 1,
		Gate:        &ir.GateRequest{ID: gateID, RunbookID: rbID, Kind: ir.GateApproval},
	}))

	recs, err := sink.Outcomes(rbID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, gateID.String(), recs[0].GateID)
}

func TestOutcomes_IsolatedPerRunbook(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, sink.EmitOutcome(ctx, &ir.ExecutionOutcome{
		Kind: ir.OutcomeCompleted, RunbookID: a, PlanVersion: 1,
	}))

	recs, err := sink.Outcomes(b)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
