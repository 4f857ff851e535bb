// Package agentgraph re-exports the kernel's primary entry points so
// embedding applications can depend on a single import path.
//
// The engine schedules multi-agent workflow runs over a dependency graph,
// classifies every invocation outcome through a circuit breaker, and lets
// trusted agents reshape the remaining graph through delegation requests.
// See the workflow package for the full API.
package agentgraph

import (
	"github.com/BaSui01/agentgraph/persistence"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// Core engine surface.
type (
	Engine       = workflow.Engine
	Option       = workflow.Option
	Executor     = workflow.Executor
	ExecutorFunc = workflow.ExecutorFunc
	RunContext   = workflow.RunContext
	Outcome      = workflow.Outcome
	Event        = workflow.Event
	Sink         = workflow.Sink
	Topology     = workflow.Topology
)

// Shared domain types.
type (
	AgentConfig       = types.AgentConfig
	WorkflowConfig    = types.WorkflowConfig
	RunSnapshot       = types.RunSnapshot
	ResumeDecision    = types.ResumeDecision
	DelegationRequest = types.DelegationRequest
)

// Store contracts.
type (
	RunStore      = persistence.RunStore
	ArtifactStore = persistence.ArtifactStore
)

// NewEngine constructs a kernel engine; see workflow.NewEngine.
var NewEngine = workflow.NewEngine

// NewMemoryRunStore constructs the process-local store used by tests and
// single-node deployments.
var NewMemoryRunStore = persistence.NewMemoryRunStore
