package httpapi

import (
	"context"
	"net/http"

	"github.com/MimeLyc/vidsub/internal/translator"
)

type prober interface {
	ProbeAll(ctx context.Context) []translator.EndpointStatus
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tr := s.svc.Translator()
	if tr == nil {
		writeError(w, http.StatusNotImplemented, "no translation endpoints are configured")
		return
	}

	var req translateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SourceLang == "" {
		req.SourceLang = "auto"
	}
	res, err := tr.Translate(r.Context(), req.Text, req.SourceLang, req.TargetLang)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type translateHealthResponse struct {
	Available bool                        `json:"available"`
	Endpoints []translator.EndpointStatus `json:"endpoints,omitempty"`
}

// handleTranslateHealth probes the pool. The status is 503 when no endpoint answers.
func (s *Server) handleTranslateHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tr := s.svc.Translator()
	if tr == nil {
		writeJSON(w, http.StatusServiceUnavailable, translateHealthResponse{})
		return
	}

	var ret translateHealthResponse
	if p, ok := tr.(prober); ok {
		ret.Endpoints = p.ProbeAll(r.Context())
		for _, st := range ret.Endpoints {
			ret.Available = ret.Available || st.Available
		}
	} else {
		ret.Available = tr.IsAvailable(r.Context())
	}

	code := http.StatusOK
	if !ret.Available {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ret)
}
