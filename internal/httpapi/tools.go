package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/echogarden-io/echogarden/internal/apperr"
)

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Names())
}

func (s *Server) toolSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	input, output, err := s.registry.GetSchema(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"input": input, "output": output})
}

type runToolRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// runTool is a development-mode direct dispatch bypassing the ingest/chat
// orchestrators; it still goes through Dispatch so it is recorded as a
// ToolCall.
func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req runToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}

	outputs, err := s.registry.Dispatch(r.Context(), name, req.Inputs, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outputs)
}
