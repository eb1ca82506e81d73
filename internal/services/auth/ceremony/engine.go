// Package ceremony drives the WebAuthn registration and authentication
// flows: options issuance backed by single-use server challenges, and
// response verification through the go-webauthn library.
package ceremony

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/id"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
)

// Stores groups the persistence dependencies of the engine.
type Stores struct {
	Users         storage.UserStore
	Credentials   storage.PasskeyCredentialStore
	Challenges    storage.ChallengeStore
	Registrations storage.RegistrationStore
}

type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type ceremonyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Engine runs WebAuthn ceremonies against stored challenges.
type Engine struct {
	stores      Stores
	provider    ceremonyProvider
	parser      ceremonyParser
	config      passkey.Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator overrides user handle generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(e *Engine) { e.idGenerator = gen }
}

// WithProvider overrides the WebAuthn provider.
func WithProvider(p ceremonyProvider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithParser overrides the credential response parser.
func WithParser(p ceremonyParser) Option {
	return func(e *Engine) { e.parser = p }
}

// NewEngine builds an engine for cfg. The default provider is a
// go-webauthn instance configured from cfg.
func NewEngine(stores Stores, cfg passkey.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		stores:      stores,
		parser:      defaultParser{},
		config:      cfg,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provider == nil {
		provider, err := webauthn.New(&webauthn.Config{
			RPDisplayName: cfg.RPDisplayName,
			RPID:          cfg.RPID,
			RPOrigins:     cfg.RPOrigins,
			Timeouts: webauthn.TimeoutsConfig{
				Registration: webauthn.TimeoutConfig{
					Enforce: true,
					Timeout: cfg.CeremonyTimeout,
				},
				Login: webauthn.TimeoutConfig{
					Enforce: true,
					Timeout: cfg.CeremonyTimeout,
				},
			},
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "configure webauthn", err)
		}
		e.provider = provider
	}
	return e, nil
}

// webauthnUser adapts an account to the library's user contract. The handle
// doubles as the user's external id so discoverable logins resolve back to
// the same account.
type webauthnUser struct {
	email       string
	handle      string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.handle)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.email
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func decodeChallenge(value string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "malformed challenge encoding")
	}
	return raw, nil
}
