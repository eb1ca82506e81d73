// Package user provides the auth user and auth-method domain model.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeInvalidArgument, "email is required")
	// ErrInvalidEmail indicates an address that does not parse.
	ErrInvalidEmail = apperrors.New(apperrors.CodeInvalidArgument, "email is invalid")
)

// AuthType discriminates the mechanisms a user can authenticate with.
type AuthType string

const (
	AuthTypeApple   AuthType = "apple"
	AuthTypePasskey AuthType = "passkey"
)

// User represents an identity row. Users are soft-deleted only; Active false
// removes them from every lookup.
type User struct {
	ID         int64
	Email      string
	ExternalID string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuthMethod links a user to one authentication mechanism. The pair
// (Type, ExternalID) is globally unique among active rows; that index is the
// duplicate-account firewall.
type AuthMethod struct {
	ID         int64
	UserID     int64
	Type       AuthType
	ExternalID string
	Metadata   map[string]string
	IsPrimary  bool
	Active     bool
	CreatedAt  time.Time
}

// Identity is the typed view of an auth method, preventing impossible states
// such as a passkey method carrying Apple-shaped data.
type Identity interface {
	isIdentity()
}

// AppleIdentity is a Sign in with Apple subject.
type AppleIdentity struct {
	Subject string
}

// PasskeyIdentity references a WebAuthn credential by its encoded handle.
type PasskeyIdentity struct {
	CredentialID string
}

func (AppleIdentity) isIdentity()   {}
func (PasskeyIdentity) isIdentity() {}

// Identity returns the typed variant for this auth method.
func (m AuthMethod) Identity() (Identity, error) {
	switch m.Type {
	case AuthTypeApple:
		return AppleIdentity{Subject: m.ExternalID}, nil
	case AuthTypePasskey:
		return PasskeyIdentity{CredentialID: m.ExternalID}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", m.Type)
	}
}

// NormalizeEmail trims, validates, and lower-cases an address. Every lookup
// and every stored row goes through this so casing never splits an identity.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// NewUser builds an unsaved user for the given address. When externalID is
// empty a fresh opaque identifier is generated, which becomes the WebAuthn
// user handle and the billing fallback id for passkey-only users.
func NewUser(email string, externalID string, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	if strings.TrimSpace(externalID) == "" {
		externalID, err = idGenerator()
		if err != nil {
			return User{}, fmt.Errorf("generate external id: %w", err)
		}
	}

	createdAt := now().UTC()
	return User{
		Email:      normalized,
		ExternalID: externalID,
		Active:     true,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}
