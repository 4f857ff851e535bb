package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegationRequestUnmarshal(t *testing.T) {
	t.Run("strategy defaults to child", func(t *testing.T) {
		var req DelegationRequest
		raw := `{"reason":"split work","new_nodes":[{"id":"b","role":"worker"}]}`
		require.NoError(t, json.Unmarshal([]byte(raw), &req))
		assert.Equal(t, StrategyChild, req.Strategy)
		assert.Equal(t, "split work", req.Reason)
	})

	t.Run("sibling accepted", func(t *testing.T) {
		var req DelegationRequest
		raw := `{"new_nodes":[{"id":"b","role":"worker"}],"strategy":"sibling"}`
		require.NoError(t, json.Unmarshal([]byte(raw), &req))
		assert.Equal(t, StrategySibling, req.Strategy)
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		var req DelegationRequest
		raw := `{"new_nodes":[{"id":"b","role":"worker"}],"strategy":"cousin"}`
		err := json.Unmarshal([]byte(raw), &req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown delegation strategy")
	})
}

func TestDelegationRequestValidate(t *testing.T) {
	t.Run("empty request rejected", func(t *testing.T) {
		req := DelegationRequest{Reason: "nothing to do"}
		assert.True(t, IsErrorCode(req.Validate(), ErrValidation))
	})

	t.Run("prune-only request accepted", func(t *testing.T) {
		req := DelegationRequest{PruneNodes: []string{"stale"}}
		assert.NoError(t, req.Validate())
	})

	t.Run("invalid new node rejected", func(t *testing.T) {
		req := DelegationRequest{NewNodes: []AgentConfig{{Role: RoleWorker}}}
		assert.True(t, IsErrorCode(req.Validate(), ErrValidation))
	})
}
