package handlers

import (
	"encoding/json"
	"net/http"
)

// batchResponse is the verdict body of the ingestion endpoint.
type batchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON sends payload with the given status. Event titles and
// descriptions are returned as stored, so HTML escaping is off; an encode
// failure after the header is written can only be dropped.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// pathParam reads a ServeMux wildcard such as {id}.
func pathParam(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	return r.PathValue(name)
}
