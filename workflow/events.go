package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType identifies a run lifecycle event.
type EventType string

const (
	EventNodeCreated       EventType = "node_created"
	EventAgentStarted      EventType = "agent_started"
	EventAgentCompleted    EventType = "agent_completed"
	EventAgentFailed       EventType = "agent_failed"
	EventApprovalRequested EventType = "approval_requested"
	EventGraphMutated      EventType = "graph_mutated"
	EventRunCompleted      EventType = "run_completed"
	EventRunFailed         EventType = "run_failed"
)

// Event is one fire-and-forget notification to observers. The kernel holds
// no assumption about who consumes events or how fast.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

func newEvent(runID string, t EventType, agentID string, payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      t,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Sink receives lifecycle events. Implementations must never block the
// engine; drop on backpressure instead.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// BufferedSink decouples event production from consumption with a bounded
// channel. When the buffer is full the event is dropped, never blocking the
// engine.
type BufferedSink struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewBufferedSink creates a sink with the given buffer size.
func NewBufferedSink(size int, logger *zap.Logger) *BufferedSink {
	if size <= 0 {
		size = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BufferedSink{
		ch:     make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "event_sink")),
	}
}

// Emit implements Sink. Drops the event when the buffer is full or the sink
// is closed.
func (s *BufferedSink) Emit(e Event) {
	select {
	case <-s.done:
	case s.ch <- e:
	default:
		s.logger.Warn("event buffer full, dropping event",
			zap.String("run_id", e.RunID),
			zap.String("type", string(e.Type)),
		)
	}
}

// Events exposes the consumption side of the sink.
func (s *BufferedSink) Events() <-chan Event {
	return s.ch
}

// Close stops the sink. Subsequent Emit calls are dropped.
func (s *BufferedSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
