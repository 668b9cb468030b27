package httpapi

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CardFilter{
		SourceType: q.Get("source_type"),
		CardType:   q.Get("card_type"),
		Limit:      atoiDefault(q.Get("limit"), 50),
		Offset:     atoiDefault(q.Get("offset"), 0),
	}

	var cards []store.MemoryCard
	var err error
	if query := q.Get("q"); query != "" {
		cards, err = s.store.Cards().Search(r.Context(), query, filter)
	} else {
		cards, err = s.store.Cards().List(r.Context(), filter)
	}
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list cards", err))
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	card, err := s.store.Cards().Get(r.Context(), id)
	if err != nil {
		writeNotFound(w, "card")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// openCard streams the original captured bytes for a card, resolved via its
// metadata.blob_id.
func (s *Server) openCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	card, err := s.store.Cards().Get(r.Context(), id)
	if err != nil {
		writeNotFound(w, "card")
		return
	}
	if card.Metadata.BlobID == "" {
		writeError(w, apperr.New(apperr.NotFound, "card has no underlying blob"))
		return
	}
	s.serveBlob(w, r, card.Metadata.BlobID)
}

func (s *Server) streamBlob(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, chi.URLParam(r, "id"))
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, blobID string) {
	blob, err := s.store.Blobs().Get(r.Context(), blobID)
	if err != nil {
		writeNotFound(w, "blob")
		return
	}
	f, err := os.Open(blob.Path)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "open blob file", err))
		return
	}
	defer f.Close()

	if blob.Mime != "" {
		w.Header().Set("Content-Type", blob.Mime)
	}
	http.ServeContent(w, r, blob.Path, blob.CreatedTs, f)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
