package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// RunState is the mutable bookkeeping of one run: its lifecycle status, the
// pairwise-disjoint active/completed/failed node sets (plus paused and
// skipped sets for human-in-the-loop flow), and the append-only invocation
// log. All transitions are atomic; invalid transitions are rejected without
// side effects.
type RunState struct {
	mu         sync.RWMutex
	runID      string
	workflowID string
	status     types.RunStatus

	active    map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}
	paused    map[string]struct{}
	skipped   map[string]struct{}

	invocations []types.AgentInvocation
	audits      []types.AuditEntry
	totalTokens int

	startTime     time.Time
	endTime       *time.Time
	pauseReason   string
	failureReason string
}

// NewRunState creates the bookkeeping for a fresh run in Idle status.
func NewRunState(runID, workflowID string) *RunState {
	return &RunState{
		runID:      runID,
		workflowID: workflowID,
		status:     types.RunIdle,
		active:     make(map[string]struct{}),
		completed:  make(map[string]struct{}),
		failed:     make(map[string]struct{}),
		paused:     make(map[string]struct{}),
		skipped:    make(map[string]struct{}),
		startTime:  time.Now().UTC(),
	}
}

// RunStateFromSnapshot rebuilds run bookkeeping from a persisted snapshot.
// Used during crash recovery.
func RunStateFromSnapshot(snap *types.RunSnapshot) *RunState {
	s := NewRunState(snap.RunID, snap.WorkflowID)
	s.status = snap.Status
	for _, id := range snap.ActiveAgents {
		s.active[id] = struct{}{}
	}
	for _, id := range snap.CompletedAgents {
		s.completed[id] = struct{}{}
	}
	for _, id := range snap.FailedAgents {
		s.failed[id] = struct{}{}
	}
	for _, id := range snap.PausedAgents {
		s.paused[id] = struct{}{}
	}
	for _, id := range snap.SkippedAgents {
		s.skipped[id] = struct{}{}
	}
	s.invocations = append(s.invocations, snap.Invocations...)
	s.audits = append(s.audits, snap.Audits...)
	s.totalTokens = snap.TotalTokensUsed
	s.startTime = snap.StartTime
	s.endTime = snap.EndTime
	s.pauseReason = snap.PauseReason
	s.failureReason = snap.FailureReason
	return s
}

// RunID returns the run identifier.
func (s *RunState) RunID() string { return s.runID }

// WorkflowID returns the workflow identifier the run instantiates.
func (s *RunState) WorkflowID() string { return s.workflowID }

// Status returns the current lifecycle status.
func (s *RunState) Status() types.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// validTransition encodes the run state machine:
// Idle → Running → (Running ⇄ AwaitingApproval) → {Completed, Failed}.
func validTransition(from, to types.RunStatus) bool {
	switch from {
	case types.RunIdle:
		return to == types.RunRunning || to == types.RunFailed
	case types.RunRunning:
		return to == types.RunAwaitingApproval || to == types.RunCompleted || to == types.RunFailed
	case types.RunAwaitingApproval:
		return to == types.RunRunning || to == types.RunFailed
	}
	return false
}

// SetStatus performs a lifecycle transition. reason is recorded for
// AwaitingApproval and Failed; terminal transitions stamp the end time.
func (s *RunState) SetStatus(to types.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == to {
		return nil
	}
	if !validTransition(s.status, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("run %s: cannot transition %s -> %s", s.runID, s.status, to))
	}
	s.status = to
	switch to {
	case types.RunAwaitingApproval:
		s.pauseReason = reason
	case types.RunFailed:
		s.failureReason = reason
		now := time.Now().UTC()
		s.endTime = &now
	case types.RunCompleted:
		now := time.Now().UTC()
		s.endTime = &now
	case types.RunRunning:
		s.pauseReason = ""
	}
	return nil
}

// Known reports whether the node id has any recorded disposition: active,
// completed, failed, paused, or skipped. Unknown nodes are dispatch
// candidates.
func (s *RunState) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inAnySet(id)
}

func (s *RunState) inAnySet(id string) bool {
	if _, ok := s.active[id]; ok {
		return true
	}
	if _, ok := s.completed[id]; ok {
		return true
	}
	if _, ok := s.failed[id]; ok {
		return true
	}
	if _, ok := s.paused[id]; ok {
		return true
	}
	_, ok := s.skipped[id]
	return ok
}

// IsActive reports whether the node is currently dispatched.
func (s *RunState) IsActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[id]
	return ok
}

// IsCompleted reports whether the node finished successfully.
func (s *RunState) IsCompleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[id]
	return ok
}

// IsSkipped reports whether the node was bypassed by an operator decision.
func (s *RunState) IsSkipped(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.skipped[id]
	return ok
}

// DependencySatisfied reports whether a predecessor counts as done for
// readiness purposes: completed normally or skipped by the operator.
func (s *RunState) DependencySatisfied(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.completed[id]; ok {
		return true
	}
	_, ok := s.skipped[id]
	return ok
}

// MarkActive moves a previously unknown node into the active set (dispatch).
func (s *RunState) MarkActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inAnySet(id) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("node %q already has a disposition", id))
	}
	s.active[id] = struct{}{}
	return nil
}

// MarkCompleted moves a node from active to completed.
func (s *RunState) MarkCompleted(id string) error {
	return s.fromActive(id, s.completedSet)
}

// MarkFailed moves a node from active to failed.
func (s *RunState) MarkFailed(id string) error {
	return s.fromActive(id, s.failedSet)
}

// MarkPaused removes a node from active without adding it to completed or
// failed; it waits in the paused set for an operator decision.
func (s *RunState) MarkPaused(id string) error {
	return s.fromActive(id, s.pausedSet)
}

func (s *RunState) completedSet() map[string]struct{} { return s.completed }
func (s *RunState) failedSet() map[string]struct{}    { return s.failed }
func (s *RunState) pausedSet() map[string]struct{}    { return s.paused }

func (s *RunState) fromActive(id string, dest func() map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; !ok {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("node %q is not active", id))
	}
	delete(s.active, id)
	dest()[id] = struct{}{}
	return nil
}

// ReadmitPaused removes a node from the paused set so it becomes ready again
// (Retry / EditAndRetry decision).
func (s *RunState) ReadmitPaused(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paused[id]; !ok {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("node %q is not paused", id))
	}
	delete(s.paused, id)
	return nil
}

// MarkSkipped moves a node from paused to skipped (Skip decision): bypassed
// permanently without being marked failed.
func (s *RunState) MarkSkipped(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paused[id]; !ok {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("node %q is not paused", id))
	}
	delete(s.paused, id)
	s.skipped[id] = struct{}{}
	return nil
}

// PausedAgents returns the ids currently awaiting an operator decision.
func (s *RunState) PausedAgents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.paused)
}

// ActiveCount returns the number of in-flight nodes.
func (s *RunState) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// AppendInvocation appends an audit log entry. The log is append-only:
// entries are never edited, corrections are new entries.
func (s *RunState) AppendInvocation(inv types.AgentInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocations = append(s.invocations, inv)
	s.totalTokens += inv.TokensUsed
}

// AppendAudit records a non-fatal anomaly, such as a rejected delegation or
// a skipped prune, alongside the invocation log.
func (s *RunState) AppendAudit(entries ...types.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entries...)
}

// InvocationCount returns the current log length.
func (s *RunState) InvocationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invocations)
}

// Snapshot returns an immutable copy of the run's bookkeeping for
// persistence and observers.
func (s *RunState) Snapshot() types.RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := types.RunSnapshot{
		RunID:           s.runID,
		WorkflowID:      s.workflowID,
		Status:          s.status,
		ActiveAgents:    sortedKeys(s.active),
		CompletedAgents: sortedKeys(s.completed),
		FailedAgents:    sortedKeys(s.failed),
		PausedAgents:    sortedKeys(s.paused),
		SkippedAgents:   sortedKeys(s.skipped),
		Invocations:     make([]types.AgentInvocation, len(s.invocations)),
		TotalTokensUsed: s.totalTokens,
		StartTime:       s.startTime,
		PauseReason:     s.pauseReason,
		FailureReason:   s.failureReason,
	}
	copy(snap.Invocations, s.invocations)
	if len(s.audits) > 0 {
		snap.Audits = make([]types.AuditEntry, len(s.audits))
		copy(snap.Audits, s.audits)
	}
	if s.endTime != nil {
		end := *s.endTime
		snap.EndTime = &end
	}
	return snap
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
