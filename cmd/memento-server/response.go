package main

import (
	"encoding/json"
	"net/http"

	"github.com/openclaw/memento/internal/memerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusForError maps the memerr taxonomy (§7) onto HTTP statuses.
func statusForError(err error) int {
	switch memerr.KindOf(err) {
	case memerr.KindValidation:
		return http.StatusBadRequest
	case memerr.KindNotFound:
		return http.StatusNotFound
	case memerr.KindTimeout:
		return http.StatusGatewayTimeout
	case memerr.KindStorageLocked:
		return http.StatusServiceUnavailable
	case memerr.KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
