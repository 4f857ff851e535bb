package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow"
)

// subscriber is one websocket client. A run-id filter of "" receives every
// event.
type subscriber struct {
	ch       chan workflow.Event
	runID    string
	clientID string
}

// eventHub fans the engine's event stream out to websocket subscribers.
// Slow subscribers lose events rather than stalling the hub.
type eventHub struct {
	events <-chan workflow.Event
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	done chan struct{}
	once sync.Once
}

func newEventHub(events <-chan workflow.Event, logger *zap.Logger) *eventHub {
	return &eventHub{
		events: events,
		logger: logger.With(zap.String("component", "event_hub")),
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
	}
}

func (h *eventHub) run() {
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.events:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *eventHub) broadcast(ev workflow.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != ev.RunID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug("subscriber buffer full, dropping event",
				zap.String("client_id", sub.clientID),
				zap.String("event_id", ev.ID),
			)
		}
	}
}

func (h *eventHub) subscribe(runID, clientID string) *subscriber {
	sub := &subscriber{
		ch:       make(chan workflow.Event, 64),
		runID:    runID,
		clientID: clientID,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *eventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *eventHub) stop() {
	h.once.Do(func() { close(h.done) })
}

// handleEvents upgrades to a websocket and streams lifecycle events. Query
// parameters: run_id filters to one run, client_id labels the connection in
// logs and must pass identifier sanitation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientID, err := sanitizeClientID(r.URL.Query().Get("client_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	runID := r.URL.Query().Get("run_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := s.hub.subscribe(runID, clientID)
	defer s.hub.unsubscribe(sub)

	s.logger.Info("event subscriber connected",
		zap.String("client_id", clientID),
		zap.String("run_id", runID),
	)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case <-s.hub.done:
			conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case ev := <-sub.ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				s.logger.Debug("subscriber write failed, closing",
					zap.String("client_id", clientID), zap.Error(err))
				return
			}
		}
	}
}
