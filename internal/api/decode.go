package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// decodeRequest reads exactly one JSON object into dst. Unknown fields and
// trailing data are rejected so a mistyped key does not look like an empty url.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("trailing data after request object")
	}
	if err == nil {
		return true
	}

	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
	case errors.Is(err, io.EOF):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: empty body"})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + strings.TrimPrefix(err.Error(), "json: ")})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
	}
	return false
}
