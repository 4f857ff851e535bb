package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/types"
)

func TestRunStateLifecycle(t *testing.T) {
	s := NewRunState("run-1", "wf-1")
	assert.Equal(t, types.RunIdle, s.Status())

	require.NoError(t, s.SetStatus(types.RunRunning, ""))
	require.NoError(t, s.SetStatus(types.RunAwaitingApproval, "empty output"))
	assert.Equal(t, "empty output", s.Snapshot().PauseReason)

	require.NoError(t, s.SetStatus(types.RunRunning, ""))
	assert.Empty(t, s.Snapshot().PauseReason)

	require.NoError(t, s.SetStatus(types.RunCompleted, ""))
	require.NotNil(t, s.Snapshot().EndTime)

	err := s.SetStatus(types.RunRunning, "")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
}

func TestRunStateInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from types.RunStatus
		to   types.RunStatus
	}{
		{"idle to awaiting approval", types.RunIdle, types.RunAwaitingApproval},
		{"idle to completed", types.RunIdle, types.RunCompleted},
		{"awaiting to completed", types.RunAwaitingApproval, types.RunCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRunState("run-1", "wf-1")
			s.status = tt.from
			err := s.SetStatus(tt.to, "")
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
		})
	}
}

func TestRunStateNodeDispositions(t *testing.T) {
	s := NewRunState("run-1", "wf-1")

	require.NoError(t, s.MarkActive("a"))
	assert.True(t, s.IsActive("a"))
	assert.True(t, types.IsErrorCode(s.MarkActive("a"), types.ErrInvalidTransition))

	require.NoError(t, s.MarkCompleted("a"))
	assert.False(t, s.IsActive("a"))
	assert.True(t, s.IsCompleted("a"))
	assert.True(t, s.DependencySatisfied("a"))

	// A completed node can never be re-dispatched.
	assert.Error(t, s.MarkActive("a"))

	// Completing a node that is not active is rejected.
	assert.Error(t, s.MarkCompleted("b"))
}

func TestRunStatePauseFlow(t *testing.T) {
	s := NewRunState("run-1", "wf-1")

	require.NoError(t, s.MarkActive("a"))
	require.NoError(t, s.MarkPaused("a"))
	assert.Equal(t, []string{"a"}, s.PausedAgents())
	assert.False(t, s.DependencySatisfied("a"))

	t.Run("readmit makes the node dispatchable again", func(t *testing.T) {
		require.NoError(t, s.ReadmitPaused("a"))
		assert.False(t, s.Known("a"))
		require.NoError(t, s.MarkActive("a"))
	})

	t.Run("skip satisfies dependents without completing", func(t *testing.T) {
		require.NoError(t, s.MarkPaused("a"))
		require.NoError(t, s.MarkSkipped("a"))
		assert.True(t, s.IsSkipped(("a")))
		assert.False(t, s.IsCompleted("a"))
		assert.True(t, s.DependencySatisfied("a"))
	})

	t.Run("skip requires a paused node", func(t *testing.T) {
		assert.Error(t, s.MarkSkipped("b"))
		assert.Error(t, s.ReadmitPaused("b"))
	})
}

func TestRunStateSnapshotRoundTrip(t *testing.T) {
	s := NewRunState("run-1", "wf-1")
	require.NoError(t, s.SetStatus(types.RunRunning, ""))
	require.NoError(t, s.MarkActive("a"))
	require.NoError(t, s.MarkCompleted("a"))
	require.NoError(t, s.MarkActive("b"))
	s.AppendInvocation(types.AgentInvocation{ID: "inv-1", AgentID: "a", TokensUsed: 42, Status: types.InvocationSuccess})

	snap := s.Snapshot()
	restored := RunStateFromSnapshot(&snap)

	assert.Equal(t, snap, restored.Snapshot())
	assert.True(t, restored.IsCompleted("a"))
	assert.True(t, restored.IsActive("b"))
	assert.Equal(t, 42, restored.Snapshot().TotalTokensUsed)
}
