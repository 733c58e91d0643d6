package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/vidsub/pkg/log"
)

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth reports readiness: 503 while the attached store does not answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.Warn("Health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
