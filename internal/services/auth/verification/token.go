package verification

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
)

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Service) mintToken(email string, now time.Time) (string, error) {
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.TokenSecret))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "sign verification token", err)
	}
	return signed, nil
}

// ValidateToken checks a verification token and returns the email it proves.
// Expired tokens and malformed or mis-signed tokens fail with distinct codes
// so clients know whether to restart the email flow.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.TokenSecret), nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.New(apperrors.CodeTokenExpired, "verification token expired")
		}
		return "", apperrors.New(apperrors.CodeTokenInvalid, "verification token invalid")
	}
	if claims.Email == "" {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "verification token invalid")
	}
	return claims.Email, nil
}
