package httpapi

import (
	"net/http"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/retrieval"
)

type retrieveRequest struct {
	Query   string           `json:"query"`
	TopK    int              `json:"top_k"`
	Filters *retrieveFilters `json:"filters"`
}

type retrieveFilters struct {
	SourceType string `json:"source_type"`
	CardType   string `json:"card_type"`
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	if req.Query == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "query must not be empty"))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 8
	}

	var filters retrieval.Filters
	if req.Filters != nil {
		filters.SourceType = req.Filters.SourceType
		filters.CardType = req.Filters.CardType
	}

	result, err := s.retriever.Retrieve(r.Context(), req.Query, topK, filters)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "retrieve", err))
		return
	}

	hits := make([]map[string]any, len(result.Hits))
	for i, hit := range result.Hits {
		hits[i] = map[string]any{
			"memory_id":   hit.MemoryID,
			"summary":     hit.Card.Summary,
			"snippet":     hit.Card.ContentText,
			"final_score": hit.FinalScore,
			"reasons":     hit.Reasons,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": hits, "trace_id": result.Trace})
}
