package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/types"
)

func workerConfig(id string, deps ...string) types.AgentConfig {
	return types.AgentConfig{ID: id, Role: types.RoleWorker, Model: types.ModelFast, DependsOn: deps}
}

// delegationFixture is a run mid-flight: parent P is active, its children C1
// and C2 are still pending.
func delegationFixture(t *testing.T) (*Graph, *Registry, *RunState) {
	t.Helper()
	g := buildGraph(t, []string{"P", "C1", "C2"}, []Edge{{"P", "C1"}, {"P", "C2"}})
	reg := NewRegistry([]types.AgentConfig{
		workerConfig("P"), workerConfig("C1", "P"), workerConfig("C2", "P"),
	})
	st := NewRunState("run-1", "wf-1")
	require.NoError(t, st.MarkActive("P"))
	return g, reg, st
}

func TestDelegationChildSplice(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))

	req := &types.DelegationRequest{
		Reason:   "split into fetch and synthesize",
		NewNodes: []types.AgentConfig{workerConfig("X"), workerConfig("Y", "X")},
		Strategy: types.StrategyChild,
	}
	mutation, audits, err := p.Apply(g, reg, st, "P", req)
	require.NoError(t, err)
	assert.Empty(t, audits)

	assert.ElementsMatch(t, []string{"X", "Y"}, mutation.AddedNodes)
	assert.Equal(t, []Edge{
		{"P", "X"}, {"X", "Y"}, {"Y", "C1"}, {"Y", "C2"},
	}, g.Export().Edges)

	// The prior parent→child edges are gone: the sub-graph now sits between.
	assert.NotContains(t, g.Children("P"), "C1")
	assert.NotContains(t, g.Children("P"), "C2")

	// Injected nodes got registered configs.
	_, ok := reg.Lookup("X")
	assert.True(t, ok)
	_, ok = reg.Lookup("Y")
	assert.True(t, ok)
}

func TestDelegationSibling(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))

	req := &types.DelegationRequest{
		Reason:   "add a second research track",
		NewNodes: []types.AgentConfig{workerConfig("X")},
		Strategy: types.StrategySibling,
	}
	_, _, err := p.Apply(g, reg, st, "P", req)
	require.NoError(t, err)

	// Old and new downstream paths coexist.
	assert.ElementsMatch(t, []string{"C1", "C2", "X"}, g.Children("P"))
}

func TestDelegationPruneSafety(t *testing.T) {
	g, reg, st := delegationFixture(t)
	require.NoError(t, st.MarkActive("C1"))
	require.NoError(t, st.MarkCompleted("C1"))
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))

	req := &types.DelegationRequest{
		Reason:     "C2 is redundant now",
		PruneNodes: []string{"C2", "C1", "ghost"},
	}
	mutation, audits, err := p.Apply(g, reg, st, "P", req)
	require.NoError(t, err)

	// Pending C2 is pruned; completed C1 and unknown ghost are skipped with
	// audit entries, never voiding the request.
	assert.Equal(t, []string{"C2"}, mutation.RemovedNodes)
	assert.ElementsMatch(t, []string{"C1", "ghost"}, mutation.RejectedPrunes)
	require.Len(t, audits, 2)
	for _, a := range audits {
		assert.Equal(t, types.ErrValidation, a.Code)
	}
	assert.True(t, g.HasNode("C1"))
	assert.False(t, g.HasNode("C2"))
	_, ok := reg.Lookup("C2")
	assert.False(t, ok, "pruned node's config must be dropped")
}

func TestDelegationCollisionVoidsRequest(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))
	before := g.Export()

	req := &types.DelegationRequest{
		Reason:   "oops",
		NewNodes: []types.AgentConfig{workerConfig("X"), workerConfig("C1")},
	}
	_, audits, err := p.Apply(g, reg, st, "P", req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCollision))
	require.NotEmpty(t, audits)
	assert.Equal(t, types.ErrCollision, audits[len(audits)-1].Code)

	// Atomicity: nothing changed, not even the valid half of the request.
	assert.Equal(t, before, g.Export())
	_, ok := reg.Lookup("X")
	assert.False(t, ok)
}

func TestDelegationDuplicateWithinRequest(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))

	req := &types.DelegationRequest{
		NewNodes: []types.AgentConfig{workerConfig("X"), workerConfig("X")},
	}
	_, _, err := p.Apply(g, reg, st, "P", req)
	assert.True(t, types.IsErrorCode(err, types.ErrCollision))
}

func TestDelegationNamePolicy(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(PrefixNamePolicy("research_", "coder_"), zaptest.NewLogger(t))
	before := g.Export()

	t.Run("rejected prefix voids request", func(t *testing.T) {
		req := &types.DelegationRequest{
			NewNodes: []types.AgentConfig{workerConfig("manager_x")},
		}
		_, _, err := p.Apply(g, reg, st, "P", req)
		assert.True(t, types.IsErrorCode(err, types.ErrNamePolicy))
		assert.Equal(t, before, g.Export())
	})

	t.Run("allowed prefix passes", func(t *testing.T) {
		req := &types.DelegationRequest{
			NewNodes: []types.AgentConfig{workerConfig("research_web")},
		}
		_, _, err := p.Apply(g, reg, st, "P", req)
		assert.NoError(t, err)
	})
}

func TestDefaultNamePolicy(t *testing.T) {
	assert.NoError(t, DefaultNamePolicy("research_web-2"))
	assert.Error(t, DefaultNamePolicy(""))
	assert.Error(t, DefaultNamePolicy("has space"))
	assert.Error(t, DefaultNamePolicy("semi;colon"))
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, DefaultNamePolicy(string(long)))
}

func TestDelegationCycleRejected(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))
	before := g.Export()

	// X depends on existing C1 while the child strategy would also reparent
	// C1 under X, closing a cycle. The whole request must be voided.
	req := &types.DelegationRequest{
		NewNodes: []types.AgentConfig{workerConfig("X", "C1")},
		Strategy: types.StrategyChild,
	}
	_, _, err := p.Apply(g, reg, st, "P", req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrGraphInvariant))
	assert.Equal(t, before, g.Export())
}

func TestDelegationUnknownDependency(t *testing.T) {
	g, reg, st := delegationFixture(t)
	p := NewDelegationProtocol(nil, zaptest.NewLogger(t))

	req := &types.DelegationRequest{
		NewNodes: []types.AgentConfig{workerConfig("X", "nowhere")},
	}
	_, _, err := p.Apply(g, reg, st, "P", req)
	assert.True(t, types.IsErrorCode(err, types.ErrGraphInvariant))
}
