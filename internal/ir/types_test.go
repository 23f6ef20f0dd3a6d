package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []RunbookStatus{StatusDraft, StatusCompiled, StatusExecuting, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionGateReentry(t *testing.T) {
	assert.True(t, CanTransition(StatusExecuting, StatusAwaitingGate))
	assert.True(t, CanTransition(StatusAwaitingGate, StatusCompiled), "gate resolution re-enters compilation")
	assert.False(t, CanTransition(StatusAwaitingGate, StatusExecuting), "no direct-execution shortcut out of a gate")
}

func TestCanTransitionRejectsBypass(t *testing.T) {
	assert.False(t, CanTransition(StatusDraft, StatusExecuting), "draft cannot execute without compiling")
	assert.False(t, CanTransition(StatusCompleted, StatusExecuting))
	assert.False(t, CanTransition(StatusFailed, StatusExecuting))
}

func TestCanTransitionTerminalToDraft(t *testing.T) {
	// Appending a new entry after a terminal version starts a new draft.
	assert.True(t, CanTransition(StatusCompleted, StatusDraft))
	assert.True(t, CanTransition(StatusFailed, StatusDraft))
}

func TestWriteSetUnionSortedAndDeduplicated(t *testing.T) {
	plan := &CompiledPlan{
		Steps: []CompiledStep{
			{WriteSet: []string{"entity/b", "entity/a"}},
			{WriteSet: []string{"entity/a", "case/1"}},
		},
	}

	assert.Equal(t, []string{"case/1", "entity/a", "entity/b"}, plan.WriteSetUnion())
}

func TestWriteSetUnionEmpty(t *testing.T) {
	plan := &CompiledPlan{Steps: []CompiledStep{{Op: "kyc.start"}}}
	assert.Empty(t, plan.WriteSetUnion())
}
