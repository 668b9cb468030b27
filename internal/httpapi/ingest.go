package httpapi

import (
	"net/http"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/ingest"
)

type ingestTextRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) ingestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}

	card, err := s.ingest.IngestText(r.Context(), ingest.TextPayload{Text: req.Text, Metadata: req.Metadata})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "ingest text", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"memory_id": card.MemoryID,
		"trace_id":  card.TraceID,
	})
}
