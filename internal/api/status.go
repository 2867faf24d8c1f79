package api

import (
	"net/http"

	"github.com/seantiz/courier/internal/engine"
)

// statusResponse is the JSON response for GET /v1/status.
type statusResponse struct {
	engine.SystemStatus
	JobsByState map[string]int `json:"jobs_by_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByState(r.Context())
	if err != nil {
		s.logger.Error("count jobs by state", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read job counts")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		SystemStatus: s.engine.Status(),
		JobsByState:  counts,
	})
}
