package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/MimeLyc/vidsub/internal/apperr"
)

const maxBodyBytes = 32 << 20

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

// writeAppError answers with the status mapped from err's type.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		apperr.Report(err)
	}
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"type":   apperr.TypeOf(err).String(),
		"advice": apperr.Advice(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
