package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// startWorkflowResponse acknowledges run creation.
type startWorkflowResponse struct {
	RunID string `json:"run_id"`
}

// resumeRequest is the operator's decision payload.
type resumeRequest struct {
	Decision types.ResumeDecision `json:"decision"`
}

// errorResponse is the uniform error body: the machine-readable code plus a
// human-readable message.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf types.WorkflowConfig
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.writeError(w, types.NewError(types.ErrValidation, "malformed workflow payload").WithCause(err))
		return
	}
	runID, err := s.engine.StartWorkflow(r.Context(), wf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startWorkflowResponse{RunID: runID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": s.engine.Runs()})
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunTopology(w http.ResponseWriter, r *http.Request) {
	topo, err := s.engine.Topology(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, topo)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrValidation, "malformed resume payload").WithCause(err))
		return
	}
	if err := s.engine.Resume(r.Context(), r.PathValue("id"), req.Decision); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var cfg types.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, types.NewError(types.ErrValidation, "malformed agent payload").WithCause(err))
		return
	}
	if agent := r.PathValue("agent"); cfg.ID != agent {
		s.writeError(w, types.NewError(types.ErrValidation, "agent id in path and body disagree"))
		return
	}
	if err := s.engine.UpdateAgentConfig(r.PathValue("id"), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	rows, err := s.archive.ListByWorkflow(r.Context(), r.PathValue("workflow"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": rows})
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

// writeError maps coded errors onto HTTP statuses; everything uncoded is a
// 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrExecution
	}
	switch code {
	case types.ErrValidation, types.ErrNamePolicy, types.ErrCollision, types.ErrProtocol:
		status = http.StatusBadRequest
	case types.ErrRunNotFound:
		status = http.StatusNotFound
	case types.ErrInvalidTransition:
		status = http.StatusConflict
	case types.ErrStorage:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorResponse{Code: string(code), Message: err.Error()})
}
