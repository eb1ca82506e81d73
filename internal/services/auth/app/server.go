// Package app assembles and runs the auth HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/id"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/logging"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/mailer"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/otel"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/account"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/api/httpapi"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/ceremony"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/identity"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	authsqlite "github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage/sqlite"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/token"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/verification"
)

// Server hosts the auth service.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *authsqlite.Store
	verification *verification.Service
	ceremony     *ceremony.Engine
	logger       *slog.Logger
}

// New creates a configured auth server listening on addr.
func New(addr, sessionSecret string) (*Server, error) {
	logger := logging.New(os.Stderr, slog.LevelInfo)

	if sessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	verificationConfig, err := verification.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("load verification config: %w", err)
	}
	if verificationConfig.TokenSecret == "" {
		verificationConfig.TokenSecret = sessionSecret
	}

	mail, err := mailer.NewFromEnv(logger)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure mailer: %w", err)
	}

	verificationSvc := verification.NewService(store, store, mail, logger, verificationConfig)

	engine, err := ceremony.NewEngine(ceremony.Stores{
		Users:         store,
		Credentials:   store,
		Challenges:    store,
		Registrations: store,
	}, passkey.LoadConfigFromEnv())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure passkey engine: %w", err)
	}

	issuer := token.NewIssuer(sessionSecret, time.Now)
	identitySvc := identity.NewService(store, store, store, issuer, logger, time.Now, id.NewID)
	accountSvc := account.NewService(store, store, time.Now)

	mux := http.NewServeMux()
	api := httpapi.NewServer(verificationSvc, engine, identitySvc, accountSvc, issuer, logger)
	api.RegisterRoutes(mux)

	return &Server{
		listener:     listener,
		httpServer:   &http.Server{Handler: logging.Middleware(logger)(mux)},
		store:        store,
		verification: verificationSvc,
		ceremony:     engine,
		logger:       logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr, sessionSecret string) error {
	server, err := New(addr, sessionSecret)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	shutdownTracing, err := otel.Setup(serverCtx, "bookplayer-auth")
	if err != nil {
		s.logger.Error("tracing setup failed", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	s.StartCleanup(serverCtx, 5*time.Minute)

	s.logger.Info("auth server listening", "addr", s.listener.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// StartCleanup starts periodic expiry cleanup for verification codes and
// ceremony challenges, so short-lived records do not accumulate without a
// separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.verification.CleanupExpired(ctx); err != nil {
					s.logger.Error("cleanup verification codes", "error", err)
				}
				if _, err := s.ceremony.CleanupExpired(ctx); err != nil {
					s.logger.Error("cleanup challenges", "error", err)
				}
			}
		}
	}()
}

func openAuthStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("BOOKPLAYER_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("close auth store", "error", err)
	}
}
