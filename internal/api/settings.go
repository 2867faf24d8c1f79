package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/courier/internal/model"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.writeJSON(w, http.StatusOK, s.settings.Resolve(userID))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var cfg model.Settings
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cfg.Prefix == "" {
		s.writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	if err := s.settings.Update(userID, cfg); err != nil {
		s.logger.Error("update settings", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	s.writeJSON(w, http.StatusOK, cfg)
}
