package types

import (
	"encoding/json"
	"fmt"
)

// DelegationStrategy describes how injected nodes relate to the delegating
// agent.
type DelegationStrategy string

const (
	// StrategyChild splices the new sub-graph between the parent and its
	// prior children: the children are re-parented onto the new sinks.
	StrategyChild DelegationStrategy = "child"
	// StrategySibling injects the new sub-graph alongside the existing
	// children; old and new downstream paths coexist.
	StrategySibling DelegationStrategy = "sibling"
)

// DelegationRequest is an agent-authored request to mutate its run's graph:
// prune still-pending nodes it has rendered redundant and/or inject a new
// sub-graph of agents. The request is applied atomically or not at all.
type DelegationRequest struct {
	// Reason is the agent's stated intent, kept for audit.
	Reason string `json:"reason"`
	// NewNodes are the agent configs to inject. DependsOn entries that
	// reference other NewNodes define the internal edges of the sub-graph.
	NewNodes []AgentConfig `json:"new_nodes"`
	// PruneNodes are node ids to remove before insertion.
	PruneNodes []string `json:"prune_nodes,omitempty"`
	// Strategy defaults to child when absent.
	Strategy DelegationStrategy `json:"strategy,omitempty"`
}

// UnmarshalJSON applies the child default and rejects unknown strategies so
// malformed payloads surface as protocol violations rather than silent
// misrouting.
func (r *DelegationRequest) UnmarshalJSON(data []byte) error {
	type alias DelegationRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch a.Strategy {
	case "", StrategyChild:
		a.Strategy = StrategyChild
	case StrategySibling:
	default:
		return fmt.Errorf("unknown delegation strategy %q", a.Strategy)
	}
	*r = DelegationRequest(a)
	return nil
}

// Validate checks the structural requirements of a delegation payload.
func (r *DelegationRequest) Validate() error {
	if len(r.NewNodes) == 0 && len(r.PruneNodes) == 0 {
		return NewError(ErrValidation, "delegation request mutates nothing")
	}
	for i := range r.NewNodes {
		if err := r.NewNodes[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
