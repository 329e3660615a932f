// Package http holds the one small helper cmd/authframed's transport layer
// needs that isn't already covered by server.ResponseApplier: rendering a
// JSON error body for failures that happen before a transaction.Transaction
// even exists (a malformed request the extractor itself rejects).
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteError writes a JSON error body of the same {"error": "..."} shape
// message.WriteJSON produces for in-pipeline rejections, for use at the one
// point in a host adapter where a request fails before the core's own
// response path runs.
func WriteError(w http.ResponseWriter, code int, msg string) {
	e := struct {
		Error string `json:"error"`
	}{
		Error: msg,
	}
	b, err := json.Marshal(e)
	if err != nil {
		slog.Default().Error("failed marshaling error body", "error", err, "msg", msg)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
