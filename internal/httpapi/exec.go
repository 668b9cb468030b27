package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/echogarden-io/echogarden/internal/apperr"
)

// execTrace returns the full node/edge DAG recorded for one trace, plus the
// trace's own metadata, so a caller can reconstruct exactly what ran.
func (s *Server) execTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")

	trace, err := s.store.Exec().GetTrace(r.Context(), traceID)
	if err != nil {
		writeNotFound(w, "trace")
		return
	}
	nodes, edges, err := s.store.Exec().Graph(r.Context(), traceID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "load exec graph", err))
		return
	}
	calls, err := s.store.Exec().ListToolCalls(r.Context(), traceID, 0)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list tool calls", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace":      trace,
		"nodes":      nodes,
		"edges":      edges,
		"tool_calls": calls,
	})
}

func (s *Server) toolCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	traceID := q.Get("trace_id")
	limit := atoiDefault(q.Get("limit"), 50)

	calls, err := s.store.Exec().ListToolCalls(r.Context(), traceID, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list tool calls", err))
		return
	}
	writeJSON(w, http.StatusOK, calls)
}
