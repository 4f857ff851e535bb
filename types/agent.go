package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Model Variants
// =============================================================================

// ModelVariant identifies the model tier an agent runs on. The set is closed
// (Fast, Reasoning, Thinking) with a Custom escape hatch for concrete model
// IDs, so callers never compare raw strings outside this type.
type ModelVariant struct {
	name string
}

var (
	// ModelFast is the cheap, low-latency tier.
	ModelFast = ModelVariant{"fast"}
	// ModelReasoning is the standard pro-level tier.
	ModelReasoning = ModelVariant{"reasoning"}
	// ModelThinking is the deep-think tier with extended reasoning budget.
	ModelThinking = ModelVariant{"thinking"}
)

// CustomModel wraps a concrete model identifier that is not one of the
// built-in tiers.
func CustomModel(name string) ModelVariant {
	return ModelVariant{name}
}

// String returns the wire name of the variant.
func (v ModelVariant) String() string {
	if v.name == "" {
		return ModelFast.name
	}
	return v.name
}

// IsCustom reports whether the variant is outside the built-in tier set.
func (v ModelVariant) IsCustom() bool {
	switch v {
	case ModelFast, ModelReasoning, ModelThinking, (ModelVariant{}):
		return false
	}
	return true
}

// MarshalJSON serializes the variant as its plain wire name.
func (v ModelVariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON maps known tier names onto the closed set and treats anything
// else as a Custom variant.
func (v *ModelVariant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("model variant must be a string: %w", err)
	}
	switch s {
	case "fast", "":
		*v = ModelFast
	case "reasoning":
		*v = ModelReasoning
	case "thinking":
		*v = ModelThinking
	default:
		*v = CustomModel(s)
	}
	return nil
}

// =============================================================================
// Agent Roles
// =============================================================================

// AgentRole describes the function of an agent within a workflow.
type AgentRole string

const (
	// RoleOrchestrator plans and delegates work to other agents.
	RoleOrchestrator AgentRole = "orchestrator"
	// RoleWorker performs a concrete unit of work.
	RoleWorker AgentRole = "worker"
	// RoleObserver watches the run without producing graph output.
	RoleObserver AgentRole = "observer"
)

// Valid reports whether the role is one of the known roles.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleOrchestrator, RoleWorker, RoleObserver:
		return true
	}
	return false
}

// Position is an optional layout hint for visual editors. The kernel carries
// it through unmodified.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// =============================================================================
// Agent & Workflow Configuration
// =============================================================================

// AgentConfig is the static configuration of a single agent node. It is used
// both in workflow definitions and inside delegation requests that inject new
// nodes at runtime.
type AgentConfig struct {
	ID              string       `json:"id" yaml:"id"`
	Role            AgentRole    `json:"role" yaml:"role"`
	Model           ModelVariant `json:"model" yaml:"model"`
	Prompt          string       `json:"prompt" yaml:"prompt"`
	Tools           []string     `json:"tools,omitempty" yaml:"tools,omitempty"`
	DependsOn       []string     `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Position        *Position    `json:"position,omitempty" yaml:"position,omitempty"`
	AllowDelegation bool         `json:"allow_delegation,omitempty" yaml:"allow_delegation,omitempty"`
}

// Validate checks the minimal structural requirements of a config.
func (c *AgentConfig) Validate() error {
	if c.ID == "" {
		return NewError(ErrValidation, "agent config requires a non-empty id")
	}
	if !c.Role.Valid() {
		return NewError(ErrValidation, fmt.Sprintf("agent %s: unknown role %q", c.ID, c.Role))
	}
	return nil
}

// WorkflowConfig is the static template a run instantiates: the ordered agent
// configs plus the initial edge set implied by their DependsOn lists.
type WorkflowConfig struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Agents         []AgentConfig `json:"agents" yaml:"agents"`
	MaxTokenBudget int           `json:"max_token_budget,omitempty" yaml:"max_token_budget,omitempty"`
	Timeout        time.Duration `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Validate checks the workflow template before a run is started.
func (w *WorkflowConfig) Validate() error {
	if w.ID == "" {
		return NewError(ErrValidation, "workflow config requires a non-empty id")
	}
	if len(w.Agents) == 0 {
		return NewError(ErrValidation, fmt.Sprintf("workflow %s has no agents", w.ID))
	}
	seen := make(map[string]struct{}, len(w.Agents))
	for i := range w.Agents {
		if err := w.Agents[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[w.Agents[i].ID]; dup {
			return NewError(ErrValidation, fmt.Sprintf("workflow %s: duplicate agent id %q", w.ID, w.Agents[i].ID))
		}
		seen[w.Agents[i].ID] = struct{}{}
	}
	return nil
}
