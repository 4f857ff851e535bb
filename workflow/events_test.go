package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBufferedSinkDropsOnFullBuffer(t *testing.T) {
	sink := NewBufferedSink(2, zaptest.NewLogger(t))
	defer sink.Close()

	sink.Emit(newEvent("run-1", EventAgentStarted, "a", nil))
	sink.Emit(newEvent("run-1", EventAgentCompleted, "a", nil))
	// Buffer is full: this one is dropped, Emit must not block.
	sink.Emit(newEvent("run-1", EventRunCompleted, "", nil))

	first := <-sink.Events()
	second := <-sink.Events()
	assert.Equal(t, EventAgentStarted, first.Type)
	assert.Equal(t, EventAgentCompleted, second.Type)

	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected buffered event %s", e.Type)
	default:
	}
}

func TestBufferedSinkCloseIsIdempotent(t *testing.T) {
	sink := NewBufferedSink(1, zaptest.NewLogger(t))
	sink.Close()
	sink.Close()
	// Emit after close must not panic or block.
	sink.Emit(newEvent("run-1", EventAgentStarted, "a", nil))
}

func TestNewEventFields(t *testing.T) {
	e := newEvent("run-9", EventGraphMutated, "agent-1", map[string]any{"accepted": true})
	require.NotEmpty(t, e.ID)
	assert.Equal(t, "run-9", e.RunID)
	assert.Equal(t, "agent-1", e.AgentID)
	assert.False(t, e.Timestamp.IsZero())
}
