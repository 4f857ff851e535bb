package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// invokeRequest is the payload posted to the agent service for one
// invocation.
type invokeRequest struct {
	RunID            string            `json:"run_id"`
	WorkflowID       string            `json:"workflow_id"`
	Agent            types.AgentConfig `json:"agent"`
	CompletedParents []string          `json:"completed_parents,omitempty"`
	DeadlineUnixMs   int64             `json:"deadline_unix_ms,omitempty"`
}

// httpExecutor posts invocations to the agent service and returns its
// outcome verbatim. Transport faults and non-2xx responses become failed
// outcomes so the circuit breaker sees them as fatal.
type httpExecutor struct {
	endpoint string
	client   *http.Client
}

func newHTTPExecutor(endpoint string) *httpExecutor {
	return &httpExecutor{
		endpoint: endpoint,
		// Per-invocation deadlines come from ctx; the client timeout is only
		// a backstop against a missing deadline.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Invoke implements workflow.Executor.
func (e *httpExecutor) Invoke(ctx context.Context, cfg types.AgentConfig, rc workflow.RunContext) (workflow.Outcome, error) {
	req := invokeRequest{
		RunID:            rc.RunID,
		WorkflowID:       rc.WorkflowID,
		Agent:            cfg,
		CompletedParents: rc.CompletedParents,
	}
	if !rc.Deadline.IsZero() {
		req.DeadlineUnixMs = rc.Deadline.UnixMilli()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return workflow.Outcome{}, fmt.Errorf("marshal invoke request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return workflow.Outcome{}, fmt.Errorf("build invoke request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return workflow.Outcome{}, fmt.Errorf("invoke agent %s: %w", cfg.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return workflow.Outcome{}, fmt.Errorf("agent service returned %s for agent %s", resp.Status, cfg.ID)
	}

	var outcome workflow.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return workflow.Outcome{}, fmt.Errorf("decode outcome for agent %s: %w", cfg.ID, err)
	}
	return outcome, nil
}
