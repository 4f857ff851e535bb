package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// NamePolicy validates the identifier of a node an agent wants to inject.
// The policy is supplied by the embedding application; the kernel only
// enforces that it passes before any mutation is applied.
type NamePolicy func(id string) error

// DefaultNamePolicy accepts alphanumeric identifiers with dashes and
// underscores, at most 64 characters. Mirrors the transport-level client-id
// sanitation so delegated ids are safe in key names and paths.
func DefaultNamePolicy(id string) error {
	if id == "" {
		return types.NewError(types.ErrNamePolicy, "node id must be non-empty")
	}
	if len(id) > 64 {
		return types.NewError(types.ErrNamePolicy, fmt.Sprintf("node id %q exceeds 64 characters", id))
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return types.NewError(types.ErrNamePolicy,
				fmt.Sprintf("node id %q contains disallowed character %q", id, c))
		}
	}
	return nil
}

// PrefixNamePolicy wraps DefaultNamePolicy and additionally requires one of
// the given role prefixes, the identity scheme used by planner-generated
// agents (research_, analyze_, coder_, writer_, master_).
func PrefixNamePolicy(prefixes ...string) NamePolicy {
	return func(id string) error {
		if err := DefaultNamePolicy(id); err != nil {
			return err
		}
		for _, p := range prefixes {
			if len(id) > len(p) && id[:len(p)] == p {
				return nil
			}
		}
		return types.NewError(types.ErrNamePolicy,
			fmt.Sprintf("node id %q matches none of the required prefixes %v", id, prefixes))
	}
}

// GraphMutation is the before/after diff of an applied delegation, carried
// on the GraphMutated event for operator transparency.
type GraphMutation struct {
	RunID          string   `json:"run_id"`
	AgentID        string   `json:"agent_id"`
	Reason         string   `json:"reason"`
	AddedNodes     []string `json:"added_nodes,omitempty"`
	RemovedNodes   []string `json:"removed_nodes,omitempty"`
	AddedEdges     []Edge   `json:"added_edges,omitempty"`
	RemovedEdges   []Edge   `json:"removed_edges,omitempty"`
	RejectedPrunes []string `json:"rejected_prunes,omitempty"`
}

// DelegationProtocol validates and applies agent-authored graph edits.
// Application is atomic: every check runs against a working copy and the
// live graph and registry are touched only after the copy verifies acyclic.
type DelegationProtocol struct {
	policy NamePolicy
	logger *zap.Logger
}

// NewDelegationProtocol creates a protocol instance. Nil arguments fall back
// to DefaultNamePolicy and a nop logger.
func NewDelegationProtocol(policy NamePolicy, logger *zap.Logger) *DelegationProtocol {
	if policy == nil {
		policy = DefaultNamePolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelegationProtocol{
		policy: policy,
		logger: logger.With(zap.String("component", "delegation")),
	}
}

// Apply executes a delegation request on behalf of parentID. Steps, in
// strict order: prune, snapshot, collision check, policy check, insertion,
// reparenting, acyclicity verification, commit. Any failure after pruning
// began still leaves the live graph untouched because all mutation happens
// on a clone. Returned audit entries cover skipped prunes and the rejection
// reason, if any.
func (p *DelegationProtocol) Apply(
	g *Graph,
	reg *Registry,
	st *RunState,
	parentID string,
	req *types.DelegationRequest,
) (*GraphMutation, []types.AuditEntry, error) {
	var audits []types.AuditEntry
	runID := st.RunID()

	before := g.Export()
	work := g.Clone()

	// Step 1: pruning. Nodes that already ran, or are running now, must not
	// be touched: history is committed. Such prune targets are skipped with
	// a warning instead of voiding the request.
	var pruned, rejectedPrunes []string
	for _, id := range req.PruneNodes {
		if st.IsActive(id) || st.IsCompleted(id) {
			rejectedPrunes = append(rejectedPrunes, id)
			audits = append(audits, p.audit(runID, parentID, types.ErrValidation,
				fmt.Sprintf("prune of %q skipped: node is active or completed", id)))
			continue
		}
		if !work.HasNode(id) {
			rejectedPrunes = append(rejectedPrunes, id)
			audits = append(audits, p.audit(runID, parentID, types.ErrValidation,
				fmt.Sprintf("prune of %q skipped: unknown node", id)))
			continue
		}
		if err := work.RemoveNode(id); err != nil {
			return nil, audits, err
		}
		pruned = append(pruned, id)
	}

	// Step 2: snapshot after pruning, so reparenting sees removals.
	children := work.Children(parentID)
	existing := make(map[string]struct{}, work.Len())
	for _, id := range work.NodeIDs() {
		existing[id] = struct{}{}
	}

	// Steps 3 and 4: collision and policy checks, before any insertion.
	newSet := make(map[string]struct{}, len(req.NewNodes))
	for _, node := range req.NewNodes {
		if _, dup := newSet[node.ID]; dup {
			err := types.NewError(types.ErrCollision,
				fmt.Sprintf("delegation repeats new node id %q", node.ID))
			audits = append(audits, p.audit(runID, parentID, types.ErrCollision, err.Message))
			return nil, audits, err
		}
		if _, taken := existing[node.ID]; taken {
			err := types.NewError(types.ErrCollision,
				fmt.Sprintf("new node id %q already exists in the run", node.ID))
			audits = append(audits, p.audit(runID, parentID, types.ErrCollision, err.Message))
			return nil, audits, err
		}
		newSet[node.ID] = struct{}{}
	}
	for _, node := range req.NewNodes {
		if err := p.policy(node.ID); err != nil {
			audits = append(audits, p.audit(runID, parentID, types.ErrNamePolicy, err.Error()))
			return nil, audits, err
		}
	}

	// Step 5: insertion. Internal edges come from DependsOn references among
	// the new nodes; entry nodes (no predecessor in the new set) attach to
	// the requesting parent.
	for _, node := range req.NewNodes {
		if err := work.AddNode(node.ID); err != nil {
			return nil, audits, err
		}
	}
	for _, node := range req.NewNodes {
		for _, dep := range node.DependsOn {
			if _, internal := newSet[dep]; !internal {
				if _, known := existing[dep]; !known {
					err := types.NewError(types.ErrGraphInvariant,
						fmt.Sprintf("new node %q depends on unknown node %q", node.ID, dep))
					audits = append(audits, p.audit(runID, parentID, types.ErrGraphInvariant, err.Message))
					return nil, audits, err
				}
			}
			if err := work.AddEdge(dep, node.ID); err != nil {
				audits = append(audits, p.audit(runID, parentID, types.ErrGraphInvariant, err.Error()))
				return nil, audits, err
			}
		}
	}
	for _, entry := range subgraphEntries(req.NewNodes, newSet) {
		if err := work.AddEdge(parentID, entry); err != nil {
			audits = append(audits, p.audit(runID, parentID, types.ErrGraphInvariant, err.Error()))
			return nil, audits, err
		}
	}

	// Step 6: reparenting. Child strategy splices the sub-graph between the
	// parent and its prior children; sibling leaves the old paths intact.
	if req.Strategy == types.StrategyChild {
		sinks := subgraphSinks(req.NewNodes, newSet)
		for _, sink := range sinks {
			for _, child := range children {
				if err := work.AddEdge(sink, child); err != nil {
					audits = append(audits, p.audit(runID, parentID, types.ErrGraphInvariant, err.Error()))
					return nil, audits, err
				}
			}
		}
		for _, child := range children {
			if err := work.RemoveEdge(parentID, child); err != nil {
				return nil, audits, err
			}
		}
	}

	// Step 7: acyclicity verification. AddEdge already refuses cycles, so
	// this is the final invariant gate rather than an expected failure path.
	if _, err := work.TopologicalSort(); err != nil {
		audits = append(audits, p.audit(runID, parentID, types.ErrGraphInvariant,
			"delegation would leave the graph cyclic"))
		return nil, audits, err
	}

	// Step 8: commit. Graph swap first, then registry, while the caller
	// holds the run's transaction lock.
	g.replaceWith(work)
	for _, id := range pruned {
		if err := reg.Remove(id); err != nil {
			// A pruned node may be structural (no config); nothing to drop.
			p.logger.Debug("pruned node had no config", zap.String("node_id", id))
		}
	}
	for _, node := range req.NewNodes {
		if err := reg.Insert(node); err != nil {
			return nil, audits, err
		}
	}

	mutation := diffSnapshots(runID, parentID, req.Reason, before, g.Export())
	mutation.RejectedPrunes = rejectedPrunes

	p.logger.Info("delegation applied",
		zap.String("run_id", runID),
		zap.String("agent_id", parentID),
		zap.Int("added_nodes", len(mutation.AddedNodes)),
		zap.Int("removed_nodes", len(mutation.RemovedNodes)),
		zap.String("strategy", string(req.Strategy)),
	)
	return mutation, audits, nil
}

func (p *DelegationProtocol) audit(runID, agentID string, code types.ErrorCode, msg string) types.AuditEntry {
	p.logger.Warn("delegation audit",
		zap.String("run_id", runID),
		zap.String("agent_id", agentID),
		zap.String("code", string(code)),
		zap.String("detail", msg),
	)
	return types.AuditEntry{
		ID:        uuid.New().String(),
		RunID:     runID,
		AgentID:   agentID,
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
}

// subgraphEntries returns new nodes with no predecessor among the new set,
// in request order.
func subgraphEntries(nodes []types.AgentConfig, newSet map[string]struct{}) []string {
	var entries []string
	for _, node := range nodes {
		internal := false
		for _, dep := range node.DependsOn {
			if _, ok := newSet[dep]; ok {
				internal = true
				break
			}
		}
		if !internal {
			entries = append(entries, node.ID)
		}
	}
	return entries
}

// subgraphSinks returns new nodes that no other new node depends on, in
// request order.
func subgraphSinks(nodes []types.AgentConfig, newSet map[string]struct{}) []string {
	hasSuccessor := make(map[string]bool, len(newSet))
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			if _, ok := newSet[dep]; ok {
				hasSuccessor[dep] = true
			}
		}
	}
	var sinks []string
	for _, node := range nodes {
		if !hasSuccessor[node.ID] {
			sinks = append(sinks, node.ID)
		}
	}
	return sinks
}

// diffSnapshots computes the node/edge delta between two graph exports.
func diffSnapshots(runID, agentID, reason string, before, after GraphSnapshot) *GraphMutation {
	m := &GraphMutation{RunID: runID, AgentID: agentID, Reason: reason}

	beforeNodes := toSet(before.Nodes)
	afterNodes := toSet(after.Nodes)
	for _, id := range after.Nodes {
		if _, ok := beforeNodes[id]; !ok {
			m.AddedNodes = append(m.AddedNodes, id)
		}
	}
	for _, id := range before.Nodes {
		if _, ok := afterNodes[id]; !ok {
			m.RemovedNodes = append(m.RemovedNodes, id)
		}
	}

	beforeEdges := edgeSet(before.Edges)
	afterEdges := edgeSet(after.Edges)
	for _, e := range after.Edges {
		if _, ok := beforeEdges[e]; !ok {
			m.AddedEdges = append(m.AddedEdges, e)
		}
	}
	for _, e := range before.Edges {
		if _, ok := afterEdges[e]; !ok {
			m.RemovedEdges = append(m.RemovedEdges, e)
		}
	}
	return m
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func edgeSet(edges []Edge) map[Edge]struct{} {
	set := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		set[e] = struct{}{}
	}
	return set
}
