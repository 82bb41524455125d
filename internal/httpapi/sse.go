package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// streamJob pushes the job's record over SSE as it progresses. The
// stream closes once a final record or a cached failure appears, or when
// the client goes away.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request, fingerprint string) {
	if fingerprint == "" {
		writeError(w, http.StatusBadRequest, "missing fingerprint")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastSequence int64 = -1
	send := func() (done, ok bool) {
		result, err := s.orchestrator.Lookup(r.Context(), fingerprint)
		if err != nil || result == nil {
			// Nothing to report yet; keep polling.
			return false, err == nil
		}

		if result.Record != nil && result.Record.SavedAtSequence == lastSequence && !result.Record.IsComplete {
			return false, true
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return false, false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false, false
		}
		flusher.Flush()

		if result.Record != nil {
			lastSequence = result.Record.SavedAtSequence
			if result.Record.IsComplete {
				return true, true
			}
		}
		if result.Error != nil {
			return true, true
		}
		return false, true
	}

	if done, ok := send(); done || !ok {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if done, ok := send(); done || !ok {
				return
			}
		}
	}
}
