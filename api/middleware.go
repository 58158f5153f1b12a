package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/versafe/versafe/types"
)

// principalHandler is a handler that runs on behalf of a verified
// principal.
type principalHandler func(w http.ResponseWriter, r *http.Request, principal *types.Principal)

// authenticated verifies the bearer token and attaches the resulting
// principal. Failures never disclose which check failed.
func (s *Service) authenticated(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeKind(w, http.StatusUnauthorized, KindAuth, "missing bearer token")
			return
		}
		principal, err := s.cfg.Auth.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, principal)
	}
}

// internal gates service-to-service routes on the shared API key.
func (s *Service) internal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if s.cfg.InternalAPIKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.InternalAPIKey)) != 1 {
			writeKind(w, http.StatusUnauthorized, KindAuth, "invalid api key")
			return
		}
		next(w, r)
	}
}
