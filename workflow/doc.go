// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package workflow implements the AgentGraph orchestration kernel: execution of
a run's agent dependency graph under concurrent completions, with runtime
graph mutation requested by the agents themselves.

# Core types

  - Graph              — run-scoped dependency DAG; every mutation is
    all-or-nothing and cycle-checked
  - Registry           — run-scoped agent-id → AgentConfig table
  - RunState           — disjoint active/completed/failed bookkeeping plus the
    append-only invocation log
  - CircuitBreaker     — pure classification of invocation outcomes into
    Continue / Pause / Abort
  - DelegationProtocol — validation and atomic application of agent-authored
    graph edits (prune, then splice)
  - Engine             — the scheduler: ready-set computation, bounded
    concurrent dispatch, per-run serialized result transactions, persistence,
    lifecycle events

# Main capabilities

  - Dynamic graph surgery: a succeeding agent may embed a ```json:delegation
    block in its output to inject a sub-graph (child splice or sibling) or
    prune still-pending nodes; the whole request is applied atomically or
    rejected with an audit entry
  - Human-in-the-loop pauses: semantically empty or protocol-violating output
    suspends the run (AwaitingApproval) until an external Retry / Skip /
    EditAndRetry decision
  - Drain-and-process: in-flight invocations at the moment of a pause or
    abort are never cancelled by the kernel; their outcomes are still
    classified and logged but can no longer trigger new dispatches
*/
package workflow
