// Package token mints and validates session tokens handed to clients after
// a successful authentication.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// Claims is the session token payload. Existing clients hold tokens without
// an expiry, so validation does not require one.
type Claims struct {
	UserID     int64  `json:"id_user"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
	IssuedAt   int64  `json:"issued_at"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	clock  func() time.Time
}

// NewIssuer returns an Issuer signing with secret.
func NewIssuer(secret string, clock func() time.Time) *Issuer {
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{secret: []byte(secret), clock: clock}
}

// Generate mints a session token for u.
func (i *Issuer) Generate(u user.User) (string, error) {
	now := i.clock()
	claims := Claims{
		UserID:     u.ID,
		Email:      u.Email,
		ExternalID: u.ExternalID,
		IssuedAt:   now.UTC().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "sign session token", err)
	}
	return signed, nil
}

// Validate parses a session token and returns its claims.
func (i *Issuer) Validate(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock))
	if err != nil {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "invalid session token")
	}
	if claims.UserID == 0 {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "invalid session token")
	}
	return claims, nil
}
