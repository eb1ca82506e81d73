package httpapi

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/token"
)

type contextKey string

const claimsKey contextKey = "session-claims"

// requireAuth rejects requests without a valid bearer session token and
// stashes the claims on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessionClaims(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// sessionClaims extracts and validates the bearer token on r.
func (s *Server) sessionClaims(r *http.Request) (token.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return token.Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "authorization required")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return token.Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "authorization required")
	}
	return s.issuer.Validate(raw)
}

func claimsFrom(r *http.Request) (token.Claims, bool) {
	claims, ok := r.Context().Value(claimsKey).(token.Claims)
	return claims, ok
}
