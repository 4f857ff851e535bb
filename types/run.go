package types

import "time"

// =============================================================================
// Run Lifecycle
// =============================================================================

// RunStatus is the lifecycle state of a single workflow run.
type RunStatus string

const (
	// RunIdle means the run is created but the loop has not started.
	RunIdle RunStatus = "idle"
	// RunRunning means the scheduler is dispatching ready nodes.
	RunRunning RunStatus = "running"
	// RunAwaitingApproval means a soft failure paused the run for review.
	RunAwaitingApproval RunStatus = "awaiting_approval"
	// RunCompleted is terminal: every node finished or was skipped.
	RunCompleted RunStatus = "completed"
	// RunFailed is terminal: a fatal failure aborted the run.
	RunFailed RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// InvocationStatus is the recorded outcome class of one agent invocation.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "success"
	InvocationPaused  InvocationStatus = "paused"
	InvocationFailed  InvocationStatus = "failed"
)

// AgentInvocation is one append-only entry of a run's audit log. Entries are
// never edited after being appended; corrections are new entries.
type AgentInvocation struct {
	ID           string           `json:"id"`
	AgentID      string           `json:"agent_id"`
	Model        ModelVariant     `json:"model_variant"`
	ToolsUsed    []string         `json:"tools_used,omitempty"`
	TokensUsed   int              `json:"tokens_used"`
	Latency      time.Duration    `json:"latency_ms"`
	Status       InvocationStatus `json:"status"`
	Timestamp    time.Time        `json:"timestamp"`
	ArtifactID   string           `json:"artifact_id,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// RunSnapshot is an immutable copy of a run's bookkeeping, produced under the
// run's transaction boundary and handed to persistence and observers.
type RunSnapshot struct {
	RunID           string            `json:"run_id"`
	WorkflowID      string            `json:"workflow_id"`
	Status          RunStatus         `json:"status"`
	ActiveAgents    []string          `json:"active_agents"`
	CompletedAgents []string          `json:"completed_agents"`
	FailedAgents    []string          `json:"failed_agents"`
	PausedAgents    []string          `json:"paused_agents,omitempty"`
	SkippedAgents   []string          `json:"skipped_agents,omitempty"`
	Invocations     []AgentInvocation `json:"invocations"`
	Audits          []AuditEntry      `json:"audits,omitempty"`
	TotalTokensUsed int               `json:"total_tokens_used"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	PauseReason     string            `json:"pause_reason,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

// ResumeDecision is the operator's answer to an approval request.
type ResumeDecision string

const (
	// ResumeRetry re-admits the paused node to the ready set unchanged.
	ResumeRetry ResumeDecision = "retry"
	// ResumeSkip permanently bypasses the paused node without failing it.
	ResumeSkip ResumeDecision = "skip"
	// ResumeEditAndRetry re-admits the node after its config was edited.
	ResumeEditAndRetry ResumeDecision = "edit_and_retry"
)

// Valid reports whether the decision is one of the known decisions.
func (d ResumeDecision) Valid() bool {
	switch d {
	case ResumeRetry, ResumeSkip, ResumeEditAndRetry:
		return true
	}
	return false
}

// AuditEntry records a non-fatal anomaly (rejected delegation, skipped prune)
// for operator transparency. Warning entries never affect run status.
type AuditEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
