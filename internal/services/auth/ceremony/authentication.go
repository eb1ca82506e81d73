package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// AssertionResponse carries the authenticator's assertion fields as
// base64url strings.
type AssertionResponse struct {
	CredentialID      string
	RawID             string
	Type              string
	AuthenticatorData string
	ClientDataJSON    string
	Signature         string
	UserHandle        string
}

// AuthenticationOptions begins an authentication ceremony. A known email
// scopes the allowed credentials to that account; an unknown, empty, or
// malformed email falls back to a discoverable login so the response does
// not reveal whether the address is registered.
func (e *Engine) AuthenticationOptions(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	now := e.clock()

	var (
		userID *int64
		handle string
	)
	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
	)

	loginOpts := []webauthn.LoginOption{
		webauthn.WithUserVerification(protocol.VerificationRequired),
	}

	known := false
	if normalized, err := user.NormalizeEmail(email); err == nil {
		existing, err := e.stores.Users.GetUserByEmail(ctx, normalized)
		if err == nil {
			stored, err := e.stores.Credentials.ListUserCredentials(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("list credentials: %w", err)
			}
			if len(stored) > 0 {
				credentials := make([]webauthn.Credential, 0, len(stored))
				for _, c := range stored {
					credentials = append(credentials, c.WebAuthn())
				}
				wUser := &webauthnUser{email: normalized, handle: existing.ExternalID, credentials: credentials}
				assertion, session, err = e.provider.BeginLogin(wUser, loginOpts...)
				if err != nil {
					return nil, apperrors.Wrap(apperrors.CodeInternal, "begin login", err)
				}
				userID = &existing.ID
				handle = existing.ExternalID
				known = true
			}
		} else if apperrors.GetCode(err) != apperrors.CodeNotFound {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
	}
	if !known {
		var err error
		assertion, session, err = e.provider.BeginDiscoverableLogin(loginOpts...)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "begin discoverable login", err)
		}
	}

	raw, err := decodeChallenge(session.Challenge)
	if err != nil {
		return nil, err
	}
	_, err = e.stores.Challenges.StoreChallenge(ctx, storage.Challenge{
		Challenge:  raw,
		UserID:     userID,
		UserHandle: handle,
		Email:      email,
		Type:       passkey.ChallengeTypeAuthentication,
		ExpiresAt:  now.Add(e.config.ChallengeTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "store challenge", err)
	}
	return assertion, nil
}

// VerifyAuthentication validates an assertion response. The credential must
// exist before anything else is checked, so an unknown credential fails
// without burning the stored challenge and the client can retry with
// another passkey.
func (e *Engine) VerifyAuthentication(ctx context.Context, response AssertionResponse) (user.User, error) {
	now := e.clock()

	credentialID, err := base64.RawURLEncoding.DecodeString(response.CredentialID)
	if err != nil || len(credentialID) == 0 {
		return user.User{}, apperrors.New(apperrors.CodeInvalidArgument, "malformed credential id")
	}
	stored, err := e.stores.Credentials.GetCredentialByCredentialID(ctx, credentialID)
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return user.User{}, apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	}
	if err != nil {
		return user.User{}, fmt.Errorf("lookup credential: %w", err)
	}

	payload, err := assertionResponseJSON(response)
	if err != nil {
		return user.User{}, err
	}
	parsed, err := e.parser.ParseCredentialRequestResponseBytes(payload)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential response", err)
	}

	raw, err := decodeChallenge(parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return user.User{}, err
	}
	challenge, err := e.stores.Challenges.ConsumeChallenge(ctx, raw, now)
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return user.User{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found or expired")
	}
	if err != nil {
		return user.User{}, fmt.Errorf("consume challenge: %w", err)
	}
	if challenge.Type != passkey.ChallengeTypeAuthentication {
		return user.User{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found or expired")
	}

	owner, err := e.stores.Credentials.GetUserByCredentialID(ctx, credentialID)
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return user.User{}, apperrors.New(apperrors.CodeUserNotFound, "user not found for credential")
	}
	if err != nil {
		return user.User{}, fmt.Errorf("lookup credential owner: %w", err)
	}

	wUser := &webauthnUser{
		email:       owner.Email,
		handle:      owner.ExternalID,
		credentials: []webauthn.Credential{stored.WebAuthn()},
	}
	session := webauthn.SessionData{
		Challenge:        parsed.Response.CollectedClientData.Challenge,
		UserID:           []byte(owner.ExternalID),
		Expires:          challenge.ExpiresAt,
		UserVerification: protocol.VerificationRequired,
	}
	validated, err := e.provider.ValidateLogin(wUser, session, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeAssertionFailed, "assertion verification failed", err)
	}
	if validated.Authenticator.CloneWarning {
		return user.User{}, apperrors.New(apperrors.CodeAssertionFailed, "credential counter anomaly")
	}

	if err := e.stores.Credentials.UpdateCounter(ctx, credentialID, validated.Authenticator.SignCount, now); err != nil {
		return user.User{}, fmt.Errorf("update counter: %w", err)
	}
	return owner, nil
}

// CleanupExpired deletes challenges whose TTL has lapsed.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	return e.stores.Challenges.DeleteExpiredChallenges(ctx, e.clock())
}

func assertionResponseJSON(response AssertionResponse) ([]byte, error) {
	if response.CredentialID == "" || response.AuthenticatorData == "" ||
		response.ClientDataJSON == "" || response.Signature == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "credential response is incomplete")
	}
	rawID := response.RawID
	if rawID == "" {
		rawID = response.CredentialID
	}
	credType := response.Type
	if credType == "" {
		credType = "public-key"
	}
	payload := map[string]any{
		"id":    response.CredentialID,
		"rawId": rawID,
		"type":  credType,
		"response": map[string]any{
			"authenticatorData": response.AuthenticatorData,
			"clientDataJSON":    response.ClientDataJSON,
			"signature":         response.Signature,
			"userHandle":        response.UserHandle,
		},
	}
	return json.Marshal(payload)
}
