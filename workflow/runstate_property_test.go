package workflow

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/BaSui01/agentgraph/types"
)

// Node sets must stay pairwise disjoint and the invocation log must only
// grow, no matter what sequence of transitions is attempted.
func TestRunStateSetsDisjoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewRunState("run-prop", "wf-prop")
		ids := []string{"a", "b", "c", "d"}
		logLen := 0

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(t, "id")
			op := rapid.IntRange(0, 5).Draw(t, "op")

			switch op {
			case 0:
				s.MarkActive(id)
			case 1:
				s.MarkCompleted(id)
			case 2:
				s.MarkFailed(id)
			case 3:
				s.MarkPaused(id)
			case 4:
				s.ReadmitPaused(id)
			case 5:
				s.MarkSkipped(id)
			}
			if rapid.Bool().Draw(t, "log") {
				s.AppendInvocation(types.AgentInvocation{ID: "inv", AgentID: id})
			}

			snap := s.Snapshot()
			seen := make(map[string]int)
			for _, set := range [][]string{
				snap.ActiveAgents, snap.CompletedAgents, snap.FailedAgents,
				snap.PausedAgents, snap.SkippedAgents,
			} {
				for _, nodeID := range set {
					seen[nodeID]++
				}
			}
			for nodeID, count := range seen {
				if count > 1 {
					t.Fatalf("node %q appears in %d sets", nodeID, count)
				}
			}

			if len(snap.Invocations) < logLen {
				t.Fatalf("invocation log shrank from %d to %d", logLen, len(snap.Invocations))
			}
			logLen = len(snap.Invocations)
		}
	})
}
