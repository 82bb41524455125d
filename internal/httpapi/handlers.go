package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/pipeline"
)

type submitResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// handleSubmit accepts a translation job and starts it in the
// background. The response carries the fingerprint the caller polls.
// Jobs already completed or failed resolve from cache without new work.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	fingerprint, err := s.orchestrator.SubmitAsync(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrTooManyJobs) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{Fingerprint: fingerprint})
}

// handleJob serves /api/translate/{fingerprint} and
// /api/translate/{fingerprint}/stream.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/translate/")
	if fingerprint, ok := strings.CutSuffix(rest, "/stream"); ok {
		s.streamJob(w, r, strings.TrimSuffix(fingerprint, "/"))
		return
	}

	fingerprint := strings.TrimSuffix(rest, "/")
	if fingerprint == "" {
		writeError(w, http.StatusBadRequest, "missing fingerprint")
		return
	}

	result, err := s.orchestrator.Lookup(r.Context(), fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "no record for fingerprint")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
