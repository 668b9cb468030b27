// Package httpapi exposes EchoGarden's subsystems (tool registry, ingest
// orchestrator, hybrid retriever, Q&A orchestrator, knowledge graph, capture)
// over the stateless HTTP surface described by the system's route table, on
// top of a chi router.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/echogarden-io/echogarden/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to a typed error response, using apperr.KindOf to pick
// the HTTP status when err is (or wraps) an *apperr.Error, and Internal
// otherwise.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

// writeNotFound is used for lookups against repositories that return plain
// (un-kinded) errors on a missing row — Get-by-id is the only realistic
// failure mode for those calls, so the 404 mapping is unconditional rather
// than inspected from the error value.
func writeNotFound(w http.ResponseWriter, resource string) {
	writeError(w, apperr.New(apperr.NotFound, resource+" not found"))
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("httpapi: empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
