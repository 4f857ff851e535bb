// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the AgentGraph kernel.

types is the lowest-level package with no internal dependencies. All
structures exchanged across package boundaries — agent configuration,
run state snapshots, invocation records, delegation payloads, and the
structured error system — are defined here to avoid circular imports.

# Core types

  - AgentConfig / WorkflowConfig — static agent and workflow definitions
  - ModelVariant                 — closed model tier set with a Custom escape hatch
  - DelegationRequest            — agent-authored graph mutation payload
  - AgentInvocation              — append-only audit log entry
  - RunStatus / RunSnapshot      — per-run lifecycle state
  - Error / ErrorCode            — structured error system with stable codes
*/
package types
