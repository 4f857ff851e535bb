package workflow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type graphOp struct {
	kind string
	a, b string
}

func genGraphOp() gopter.Gen {
	ids := gen.OneConstOf("a", "b", "c", "d", "e", "f")
	kinds := gen.OneConstOf("add_node", "remove_node", "add_edge", "remove_edge")
	return gopter.CombineGens(kinds, ids, ids).Map(func(vs []interface{}) graphOp {
		return graphOp{kind: vs[0].(string), a: vs[1].(string), b: vs[2].(string)}
	})
}

// The graph must stay acyclic no matter what sequence of mutations is thrown
// at it, and every rejected mutation must leave it byte-identical.
func TestGraphStaysAcyclicUnderRandomMutations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("acyclic and atomic under random ops", prop.ForAll(
		func(ops []graphOp) bool {
			g := NewGraph()
			for _, op := range ops {
				before := g.Export()
				var err error
				switch op.kind {
				case "add_node":
					err = g.AddNode(op.a)
				case "remove_node":
					err = g.RemoveNode(op.a)
				case "add_edge":
					err = g.AddEdge(op.a, op.b)
				case "remove_edge":
					err = g.RemoveEdge(op.a, op.b)
				}
				if err != nil && !snapshotsEqual(before, g.Export()) {
					return false
				}
				if _, sortErr := g.TopologicalSort(); sortErr != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genGraphOp()),
	))

	properties.TestingRun(t)
}

func snapshotsEqual(a, b GraphSnapshot) bool {
	if len(a.Nodes) != len(b.Nodes) || len(a.Edges) != len(b.Edges) {
		return false
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			return false
		}
	}
	for i := range a.Edges {
		if a.Edges[i] != b.Edges[i] {
			return false
		}
	}
	return true
}
