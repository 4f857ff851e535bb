package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/types"
)

func TestExtractDelegation(t *testing.T) {
	t.Run("no block returns nil", func(t *testing.T) {
		req, err := ExtractDelegation("plain prose, no fences here")
		require.NoError(t, err)
		assert.Nil(t, req)
	})

	t.Run("well formed block", func(t *testing.T) {
		text := "I need help.\n```json:delegation\n" +
			`{"reason":"too broad","new_nodes":[{"id":"research_web","role":"worker"}],"strategy":"sibling"}` +
			"\n```\nthanks"
		req, err := ExtractDelegation(text)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "too broad", req.Reason)
		assert.Equal(t, types.StrategySibling, req.Strategy)
		require.Len(t, req.NewNodes, 1)
		assert.Equal(t, "research_web", req.NewNodes[0].ID)
	})

	t.Run("case insensitive fence", func(t *testing.T) {
		text := "```JSON:DELEGATION\n" +
			`{"reason":"x","prune_nodes":["stale"]}` + "\n```"
		req, err := ExtractDelegation(text)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, []string{"stale"}, req.PruneNodes)
	})

	t.Run("first block wins", func(t *testing.T) {
		text := "```json:delegation\n" +
			`{"reason":"first","prune_nodes":["a"]}` + "\n```\n" +
			"```json:delegation\n" +
			`{"reason":"second","prune_nodes":["b"]}` + "\n```"
		req, err := ExtractDelegation(text)
		require.NoError(t, err)
		assert.Equal(t, "first", req.Reason)
	})

	t.Run("invalid escape repaired", func(t *testing.T) {
		// \d is not a valid JSON escape; models embed regexes like this.
		text := "```json:delegation\n" +
			`{"reason":"match \d+ items","prune_nodes":["stale"]}` + "\n```"
		req, err := ExtractDelegation(text)
		require.NoError(t, err)
		assert.Equal(t, `match \d+ items`, req.Reason)
	})

	t.Run("malformed block is a protocol violation", func(t *testing.T) {
		text := "```json:delegation\n{\"reason\": \n```"
		_, err := ExtractDelegation(text)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
	})

	t.Run("structurally invalid request rejected", func(t *testing.T) {
		text := "```json:delegation\n{\"reason\":\"mutates nothing\"}\n```"
		_, err := ExtractDelegation(text)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		text := "```json:delegation\n" +
			`{"reason":"x","prune_nodes":["a"],"strategy":"cousin"}` + "\n```"
		_, err := ExtractDelegation(text)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
	})
}

func TestHasDelegation(t *testing.T) {
	assert.True(t, HasDelegation("x ```json:delegation\n{}\n``` y"))
	assert.False(t, HasDelegation("```json\n{}\n```"))
	assert.False(t, HasDelegation(""))
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid escapes untouched", `{"a":"line\nbreak \"quoted\""}`, `{"a":"line\nbreak \"quoted\""}`},
		{"regex escape doubled", `{"a":"\d+"}`, `{"a":"\\d+"}`},
		{"windows path doubled", `{"a":"C:\Users\x"}`, `{"a":"C:\\Users\\x"}`},
		{"trailing backslash doubled", `{"a":"end\`, `{"a":"end\\`},
		{"unicode escape untouched", `{"a":"\u00e9"}`, `{"a":"\u00e9"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairJSON(tt.in))
		})
	}
}

func TestOutputText(t *testing.T) {
	assert.Equal(t, "hello", outputText(json.RawMessage(`"hello"`)))
	assert.Equal(t, "from result", outputText(json.RawMessage(`{"result":"from result"}`)))
	assert.Equal(t, "from output", outputText(json.RawMessage(`{"output":"from output"}`)))
	assert.Equal(t, "", outputText(json.RawMessage(`{"other":42}`)))
	assert.Equal(t, "", outputText(json.RawMessage(`[1,2,3]`)))
}
