package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps the mux with request logging and metrics. Websocket
// upgrades bypass the recorder because hijacked connections never write a
// conventional status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/events" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		s.metrics.HTTPRequestObserved(r.Method, r.URL.Path, rec.status, elapsed)
		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// sanitizeClientID vets a caller-supplied connection label before it reaches
// logs or key names: alphanumerics, dash, and underscore only, at most 64
// characters. Empty input gets a default label.
func sanitizeClientID(id string) (string, error) {
	if id == "" {
		return "anonymous", nil
	}
	if len(id) > 64 {
		return "", types.NewError(types.ErrValidation, "client_id exceeds 64 characters")
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", types.NewError(types.ErrValidation,
				fmt.Sprintf("client_id contains disallowed character %q", c))
		}
	}
	return id, nil
}
