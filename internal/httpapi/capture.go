package httpapi

import (
	"net/http"
	"time"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/capture"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// captureStatus reports the watcher's counters, or disabled=true when the
// process runs without a watcher configured.
func (s *Server) captureStatus(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeJSON(w, http.StatusOK, map[string]any{"disabled": true})
		return
	}
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

func (s *Server) captureJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := store.JobStatus(q.Get("status"))
	if status == "" {
		status = store.JobQueued
	}
	limit := atoiDefault(q.Get("limit"), 50)

	jobs, err := s.store.Jobs().List(r.Context(), status, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list jobs", err))
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type highlightRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Quote string `json:"quote"`
}

func (s *Server) captureHighlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	memoryID, err := s.browser.Highlight(r.Context(), req.URL, req.Title, req.Quote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": memoryID})
}

type bookmarkRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) captureBookmark(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	memoryID, err := s.browser.Bookmark(r.Context(), req.URL, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": memoryID})
}

type researchSessionRequest struct {
	Title string   `json:"title"`
	URLs  []string `json:"urls"`
}

func (s *Server) captureResearchSession(w http.ResponseWriter, r *http.Request) {
	var req researchSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	memoryID, err := s.browser.ResearchSession(r.Context(), req.Title, req.URLs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": memoryID})
}

type visitRequest struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	VisitedAt time.Time `json:"visited_at"`
}

func (s *Server) captureVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	visitedAt := req.VisitedAt
	if visitedAt.IsZero() {
		visitedAt = time.Now()
	}
	memoryID, err := s.browser.Visit(r.Context(), req.URL, req.Title, visitedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": memoryID})
}

type importHistoryRequest struct {
	Entries []importHistoryEntry `json:"entries"`
}

type importHistoryEntry struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	VisitedAt time.Time `json:"visited_at"`
}

func (s *Server) captureImportHistory(w http.ResponseWriter, r *http.Request) {
	var req importHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}

	entries := make([]capture.HistoryEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = capture.HistoryEntry{URL: e.URL, Title: e.Title, VisitedAt: e.VisitedAt}
	}

	imported, err := s.browser.ImportHistory(r.Context(), entries)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "import history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "submitted": len(entries)})
}
