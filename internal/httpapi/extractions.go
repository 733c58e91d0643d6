package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/vidsub/internal/apperr"
	"github.com/MimeLyc/vidsub/internal/pipeline"
)

type enqueueExtractionRequest struct {
	pipeline.ExtractionRequest
	Source string `json:"source"`
}

func (s *Server) handleExtractions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.queue.List())
	case http.MethodPost:
		var req enqueueExtractionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}
		enqueue, err := req.EnqueueRequest(req.Source)
		if err != nil {
			writeAppError(w, err)
			return
		}

		job, created := s.queue.Enqueue(enqueue)
		code := http.StatusCreated
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]any{
			"created": created,
			"job":     job,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleExtraction serves /api/extractions/{id}. DELETE cancels an active job
// and removes a finished one.
func (s *Server) handleExtraction(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/extractions/"), "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := s.queue.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		job, ok := s.queue.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if job.Status.Terminal() {
			if err := s.queue.Delete(id); err != nil {
				writeAppError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		cancelled, err := s.queue.Cancel(id)
		if err != nil {
			if apperr.IsNotFound(err) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, cancelled)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
