package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/jnoller/racer/internal/apperr"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK wraps payload in the success envelope under key. An empty key sends the envelope alone.
func writeOK(w http.ResponseWriter, status int, message, key string, payload any) {
	body := map[string]any{"success": true, "message": message}
	if key != "" {
		body[key] = payload
	}
	writeJSON(w, status, body)
}

// writeError sends the failure envelope.
func writeError(w http.ResponseWriter, status int, kind apperr.Kind, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg, "error": kind})
}

// writeFailure classifies err and sends the matching envelope.
func (r *Router) writeFailure(w http.ResponseWriter, req *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	}
	writeError(w, status, apperr.KindOf(err), apperr.Message(err))
}

func statusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindSource:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAmbiguous, apperr.KindConsistency:
		return http.StatusConflict
	case apperr.KindRuntime:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
