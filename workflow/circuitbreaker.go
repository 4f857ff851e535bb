package workflow

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// Invocation Outcomes
// =============================================================================

// Outcome is the executor's report of one agent invocation. The executor is
// responsible for turning an exceeded deadline or transport fault into a
// failed outcome before it reaches the circuit breaker.
type Outcome struct {
	AgentID    string          `json:"agent_id"`
	Succeeded  bool            `json:"succeeded"`
	Output     json.RawMessage `json:"output,omitempty"`
	Err        string          `json:"error,omitempty"`
	TokensUsed int             `json:"tokens_used"`
	Latency    time.Duration   `json:"latency_ms"`
	ToolsUsed  []string        `json:"tools_used,omitempty"`
}

// FailureClass is the circuit breaker's classification of an outcome.
type FailureClass string

const (
	// ClassSuccess: clean execution with a usable, schema-valid payload.
	ClassSuccess FailureClass = "success"
	// ClassSemanticNull: clean execution but no usable result.
	ClassSemanticNull FailureClass = "semantic_null"
	// ClassProtocolViolation: structured output that fails validation.
	ClassProtocolViolation FailureClass = "protocol_violation"
	// ClassFatal: execution-level error (timeout, transport fault, crash).
	ClassFatal FailureClass = "fatal"
)

// Action is what the engine does with a classified outcome.
type Action string

const (
	ActionContinue Action = "continue"
	ActionPause    Action = "pause"
	ActionAbort    Action = "abort"
)

// Decision pairs a classification with the scheduler action it demands and a
// human-readable reason surfaced to operators.
type Decision struct {
	Class  FailureClass
	Action Action
	Reason string
}

// OutputValidator checks an outcome's structured payload. A non-nil error is
// classified as a protocol violation and the error text becomes the pause
// reason.
type OutputValidator func(output json.RawMessage) error

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitBreaker is the pure decision policy mapping invocation outcomes to
// Continue / Pause / Abort. It holds no mutable state; the validator is the
// only configuration.
type CircuitBreaker struct {
	validator OutputValidator
}

// NewCircuitBreaker creates a breaker. A nil validator falls back to
// DefaultOutputValidator.
func NewCircuitBreaker(validator OutputValidator) *CircuitBreaker {
	if validator == nil {
		validator = DefaultOutputValidator
	}
	return &CircuitBreaker{validator: validator}
}

// Classify maps an outcome to a decision, in strict priority order:
//
//  1. succeeded with a non-empty, schema-valid payload   → Continue
//  2. succeeded but semantically empty payload            → Pause
//  3. succeeded but payload fails validation              → Pause
//  4. anything else (raw execution error)                 → Abort
func (cb *CircuitBreaker) Classify(o Outcome) Decision {
	if o.Succeeded {
		if semanticallyEmpty(o.Output) {
			return Decision{
				Class:  ClassSemanticNull,
				Action: ActionPause,
				Reason: "node reported no data; verification required",
			}
		}
		if err := cb.validator(o.Output); err != nil {
			return Decision{
				Class:  ClassProtocolViolation,
				Action: ActionPause,
				Reason: err.Error(),
			}
		}
		return Decision{Class: ClassSuccess, Action: ActionContinue}
	}

	reason := o.Err
	if reason == "" {
		reason = "agent reported failure with no error detail"
	}
	return Decision{Class: ClassFatal, Action: ActionAbort, Reason: reason}
}

// semanticallyEmpty reports whether the payload carries no usable result:
// absent, JSON null, an empty object/array, or a blank string.
func semanticallyEmpty(output json.RawMessage) bool {
	trimmed := bytes.TrimSpace(output)
	switch {
	case len(trimmed) == 0:
		return true
	case bytes.Equal(trimmed, []byte("null")):
		return true
	case bytes.Equal(trimmed, []byte("{}")), bytes.Equal(trimmed, []byte("[]")):
		return true
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// DefaultOutputValidator requires the payload to be well-formed JSON, and
// when the payload's text embeds a delegation block, the block must parse
// into a valid DelegationRequest. Malformed delegations therefore pause the
// run instead of splicing garbage into the graph.
func DefaultOutputValidator(output json.RawMessage) error {
	if !json.Valid(output) {
		return errInvalidJSON
	}
	text := outputText(output)
	if text == "" {
		return nil
	}
	if _, err := ExtractDelegation(text); err != nil {
		return err
	}
	return nil
}
