package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/types"
)

func buildGraph(t *testing.T, nodes []string, edges []Edge) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range nodes {
		require.NoError(t, g.AddNode(id))
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e.From, e.To))
	}
	return g
}

func TestGraphAddNode(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a"))

	err := g.AddNode("a")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrGraphInvariant))

	assert.True(t, types.IsErrorCode(g.AddNode(""), types.ErrGraphInvariant))
	assert.Equal(t, 1, g.Len())
}

func TestGraphAddEdge(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, nil)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	t.Run("missing endpoint", func(t *testing.T) {
		assert.Error(t, g.AddEdge("a", "ghost"))
		assert.Error(t, g.AddEdge("ghost", "a"))
	})

	t.Run("self loop", func(t *testing.T) {
		assert.Error(t, g.AddEdge("a", "a"))
	})

	t.Run("cycle rejected", func(t *testing.T) {
		err := g.AddEdge("c", "a")
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrGraphInvariant))
		// Rejection must leave the graph untouched.
		assert.Equal(t, []string{"b"}, g.Children("a"))
	})

	t.Run("duplicate edge is a no-op", func(t *testing.T) {
		before := g.Export()
		require.NoError(t, g.AddEdge("a", "b"))
		assert.Equal(t, before, g.Export())
	})
}

func TestGraphRemoveNode(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"},
		[]Edge{{"a", "b"}, {"b", "c"}, {"a", "c"}})

	require.NoError(t, g.RemoveNode("b"))

	assert.False(t, g.HasNode("b"))
	assert.Equal(t, []string{"c"}, g.Children("a"))
	assert.Equal(t, []string{"a"}, g.Parents("c"))
	assert.Error(t, g.RemoveNode("b"))
}

func TestGraphTopologicalSort(t *testing.T) {
	g := buildGraph(t, []string{"d", "c", "b", "a"},
		[]Edge{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	// Kahn with lexicographic tie-breaking is fully deterministic.
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestGraphRoots(t *testing.T) {
	g := buildGraph(t,
		[]string{"a", "b", "c", "d"},
		[]Edge{{"a", "c"}, {"b", "c"}, {"c", "d"}})

	assert.Equal(t, []string{"a", "b"}, g.Roots())

	require.NoError(t, g.RemoveNode("a"))
	assert.Equal(t, []string{"b"}, g.Roots())
}

func TestGraphClone(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, []Edge{{"a", "b"}})

	c := g.Clone()
	require.NoError(t, c.AddNode("c"))
	require.NoError(t, c.AddEdge("b", "c"))

	assert.False(t, g.HasNode("c"), "clone mutations must not leak into the original")
	assert.True(t, c.HasNode("c"))
}

func TestGraphReplaceWith(t *testing.T) {
	g := buildGraph(t, []string{"a"}, nil)
	other := buildGraph(t, []string{"x", "y"}, []Edge{{"x", "y"}})

	g.replaceWith(other)

	assert.False(t, g.HasNode("a"))
	assert.Equal(t, []string{"x", "y"}, g.NodeIDs())
	assert.Equal(t, []Edge{{"x", "y"}}, g.Export().Edges)
}
