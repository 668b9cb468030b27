package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}

	resp, err := s.qa.HandleChat(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": resp.ConversationID,
		"turn_id":         resp.TurnID,
		"trace_id":        resp.TraceID,
		"answer":          resp.Answer,
		"verdict":         resp.Verdict,
		"citations":       resp.Citations,
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	conversations, err := s.store.Conversations().ListConversations(r.Context(), limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list conversations", err))
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, turns, err := s.store.Conversations().GetConversation(r.Context(), id)
	if err != nil {
		writeNotFound(w, "conversation")
		return
	}

	type turnView struct {
		store.Turn
		Citations []store.ChatCitation `json:"citations,omitempty"`
		Evidence  []map[string]any     `json:"evidence,omitempty"`
	}

	views := make([]turnView, len(turns))
	for i, t := range turns {
		if len(t.CitationsJSON) > 0 {
			_ = json.Unmarshal(t.CitationsJSON, &views[i].Citations)
		}
		if len(t.EvidenceJSON) > 0 {
			_ = json.Unmarshal(t.EvidenceJSON, &views[i].Evidence)
		}
		t.CitationsJSON = nil
		t.EvidenceJSON = nil
		views[i].Turn = t
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"turns":        views,
	})
}

func (s *Server) searchHistory(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	entries, err := s.store.SearchHistory().Recent(r.Context(), limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list search history", err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
