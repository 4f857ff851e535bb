package workflow

import (
	"github.com/BaSui01/agentgraph/types"
)

// TopologyNode is one node of the visualization export: graph identity
// joined against the agent's registered configuration.
type TopologyNode struct {
	ID       string             `json:"id"`
	Label    string             `json:"label"`
	Prompt   string             `json:"prompt"`
	Model    types.ModelVariant `json:"model"`
	Role     types.AgentRole    `json:"role"`
	Tools    []string           `json:"tools,omitempty"`
	Position *types.Position    `json:"position,omitempty"`
}

// Topology is the read-only node/edge view of a run's current graph.
type Topology struct {
	RunID string         `json:"run_id"`
	Nodes []TopologyNode `json:"nodes"`
	Edges []Edge         `json:"edges"`
}

// placeholderPrompt marks nodes that exist structurally but have no config
// attached, so observers can render them without guessing.
const placeholderPrompt = "(no configuration attached)"

// buildTopology joins a graph snapshot against the registry. A node without
// a matching config yields a structural placeholder entry.
func buildTopology(runID string, snap GraphSnapshot, reg *Registry) Topology {
	topo := Topology{
		RunID: runID,
		Nodes: make([]TopologyNode, 0, len(snap.Nodes)),
		Edges: snap.Edges,
	}
	configs := reg.Snapshot()
	for _, id := range snap.Nodes {
		cfg, ok := configs[id]
		if !ok {
			topo.Nodes = append(topo.Nodes, TopologyNode{
				ID:     id,
				Label:  id,
				Prompt: placeholderPrompt,
				Model:  types.ModelFast,
				Role:   types.RoleWorker,
			})
			continue
		}
		topo.Nodes = append(topo.Nodes, TopologyNode{
			ID:       cfg.ID,
			Label:    cfg.ID,
			Prompt:   cfg.Prompt,
			Model:    cfg.Model,
			Role:     cfg.Role,
			Tools:    cfg.Tools,
			Position: cfg.Position,
		})
	}
	return topo
}
