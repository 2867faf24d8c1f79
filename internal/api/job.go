package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/courier/internal/engine"
	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitJobRequest is the JSON body for POST /v1/jobs. Settings fields, when
// present, override the user's stored preferences for this job only.
type submitJobRequest struct {
	Kind       string `json:"kind"`
	Reference  string `json:"reference"`
	FolderPath string `json:"folder_path"`
	UserID     string `json:"user_id"`

	Prefix     *string `json:"prefix"`
	RunRelabel *bool   `json:"run_relabel"`
	RunPublish *bool   `json:"run_publish"`
	RunCleanup *bool   `json:"run_cleanup"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Settings are resolved once at submission; later preference changes do
	// not affect this job.
	cfg := s.settings.Resolve(req.UserID)
	if req.Prefix != nil {
		cfg.Prefix = *req.Prefix
	}
	if req.RunRelabel != nil {
		cfg.RunRelabel = *req.RunRelabel
	}
	if req.RunPublish != nil {
		cfg.RunPublish = *req.RunPublish
	}
	if req.RunCleanup != nil {
		cfg.RunCleanup = *req.RunCleanup
	}

	job, err := s.engine.Submit(r.Context(), req.Kind, req.Reference, req.FolderPath, req.UserID, cfg)
	if errors.Is(err, engine.ErrInvalidJob) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), state, limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleJobOverview returns the queue snapshot: queued count, active jobs,
// and the most recently finished jobs.
func (s *Server) handleJobOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.engine.List(r.Context())
	if err != nil {
		s.logger.Error("job overview", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	if overview.Active == nil {
		overview.Active = []*model.Job{}
	}
	if overview.RecentCompleted == nil {
		overview.RecentCompleted = []*model.Job{}
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get cancelled job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	if !cancelled {
		// Already terminal; report the job as it stands.
		s.writeJSON(w, http.StatusConflict, job)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleWaitJob blocks until the job reaches a terminal state, then returns
// the final record. The client's context bounds the wait.
func (s *Server) handleWaitJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Wait(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Client gave up; nothing useful to write.
		return
	}
	if err != nil {
		s.logger.Error("wait for job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to wait for job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
