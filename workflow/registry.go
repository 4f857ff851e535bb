package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// Registry maps agent ids to their static configuration for one run. It is
// mutated only by delegation: pruning removes entries, injection adds them.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]types.AgentConfig
}

// NewRegistry creates a registry pre-populated from a workflow template.
func NewRegistry(agents []types.AgentConfig) *Registry {
	r := &Registry{configs: make(map[string]types.AgentConfig, len(agents))}
	for _, cfg := range agents {
		r.configs[cfg.ID] = cfg
	}
	return r
}

// Lookup returns the config for an agent id.
func (r *Registry) Lookup(id string) (types.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// Insert adds or replaces a config. Replacement is how EditAndRetry applies
// an operator's edit before re-dispatch.
func (r *Registry) Insert(cfg types.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = cfg
	return nil
}

// Remove drops a config. Removing an unknown id is an error so pruning
// bookkeeping stays honest.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[id]; !ok {
		return types.NewError(types.ErrValidation, fmt.Sprintf("no config registered for %q", id))
	}
	delete(r.configs, id)
	return nil
}

// Len returns the number of registered configs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Snapshot returns a copy of the registered configs, safe to read while the
// registry keeps mutating.
func (r *Registry) Snapshot() map[string]types.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.AgentConfig, len(r.configs))
	for id, cfg := range r.configs {
		out[id] = cfg
	}
	return out
}

// IDs returns all registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.configs))
	for id := range r.configs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
