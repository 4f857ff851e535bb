// Package api exposes the kernel over HTTP: run control endpoints, a
// websocket event stream, health, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/persistence"
	"github.com/BaSui01/agentgraph/workflow"
)

// Server is the HTTP surface over one engine instance.
type Server struct {
	engine  *workflow.Engine
	archive *persistence.ArchiveStore
	hub     *eventHub
	metrics *metrics.Collector
	logger  *zap.Logger

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithArchive exposes the cold store's query endpoints.
func WithArchive(a *persistence.ArchiveStore) ServerOption {
	return func(s *Server) { s.archive = a }
}

// WithServerMetrics instruments requests and exposes /metrics.
func WithServerMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// NewServer builds the server. events is the engine's sink output feeding
// the websocket stream; nil disables streaming.
func NewServer(addr string, engine *workflow.Engine, events <-chan workflow.Event, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		logger: logger.With(zap.String("component", "api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if events != nil {
		s.hub = newEventHub(events, s.logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows", s.handleStartWorkflow)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRunState)
	mux.HandleFunc("GET /api/v1/runs/{id}/topology", s.handleRunTopology)
	mux.HandleFunc("POST /api/v1/runs/{id}/resume", s.handleResume)
	mux.HandleFunc("PUT /api/v1/runs/{id}/agents/{agent}", s.handleUpdateAgent)
	if s.archive != nil {
		mux.HandleFunc("GET /api/v1/archive/workflows/{workflow}", s.handleArchiveList)
		mux.HandleFunc("GET /api/v1/archive/runs/{id}", s.handleArchiveGet)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the routing stack, primarily for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	if s.hub != nil {
		go s.hub.run()
	}
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections and stops the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.stop()
	}
	return s.httpServer.Shutdown(ctx)
}
