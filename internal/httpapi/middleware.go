package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/echogarden-io/echogarden/internal/apperr"
)

// requireCaptureKey rejects browser-capture requests unless X-EG-KEY matches
// the configured capture_api_key. An empty configured key disables the
// check (local/dev only).
func (s *Server) requireCaptureKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.captureAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-EG-KEY")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.captureAPIKey)) != 1 {
			writeError(w, apperr.New(apperr.Unauthorized, "missing or invalid X-EG-KEY"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
