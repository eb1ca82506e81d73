// Package httpapi exposes the authentication flows over JSON HTTP.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/account"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/ceremony"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/identity"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/token"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/verification"
)

// Server bundles the auth services behind HTTP handlers.
type Server struct {
	verification *verification.Service
	ceremony     *ceremony.Engine
	identity     *identity.Service
	account      *account.Service
	issuer       *token.Issuer
	logger       *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(v *verification.Service, c *ceremony.Engine, i *identity.Service, a *account.Service, issuer *token.Issuer, logger *slog.Logger) *Server {
	return &Server{
		verification: v,
		ceremony:     c,
		identity:     i,
		account:      a,
		issuer:       issuer,
		logger:       logger,
	}
}

// RegisterRoutes attaches all handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/email/send", s.handleEmailSend)
	mux.HandleFunc("POST /auth/email/verify", s.handleEmailVerify)
	mux.HandleFunc("POST /auth/passkey/register/options", s.handleRegisterOptions)
	mux.HandleFunc("POST /auth/passkey/register/verify", s.handleRegisterVerify)
	mux.HandleFunc("POST /auth/passkey/login/options", s.handleLoginOptions)
	mux.HandleFunc("POST /auth/passkey/login/verify", s.handleLoginVerify)
	mux.HandleFunc("POST /auth/apple", s.handleAppleSignIn)
	mux.HandleFunc("GET /auth/passkeys", s.requireAuth(s.handleListPasskeys))
	mux.HandleFunc("POST /auth/passkeys/delete", s.requireAuth(s.handleDeletePasskey))
	mux.HandleFunc("POST /auth/passkeys/rename", s.requireAuth(s.handleRenamePasskey))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}
