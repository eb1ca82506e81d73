package ceremony

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// RegistrationResponse carries the authenticator's attestation fields as
// base64url strings, the way browser clients serialize them.
type RegistrationResponse struct {
	Email             string
	DeviceName        string
	CredentialID      string
	RawID             string
	Type              string
	AttestationObject string
	ClientDataJSON    string
	Transports        []string
}

// RegistrationOptions begins a registration ceremony for a verified email.
// The returned options include exclusions for any passkeys the account
// already holds, and the challenge is persisted for single use.
func (e *Engine) RegistrationOptions(ctx context.Context, email string) (*protocol.CredentialCreation, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	var (
		userID      *int64
		handle      string
		credentials []webauthn.Credential
	)
	existing, err := e.stores.Users.GetUserByEmail(ctx, normalized)
	switch {
	case err == nil:
		userID = &existing.ID
		handle = existing.ExternalID
		stored, err := e.stores.Credentials.ListUserCredentials(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		for _, c := range stored {
			credentials = append(credentials, c.WebAuthn())
		}
	case apperrors.GetCode(err) == apperrors.CodeNotFound:
		handle, err = e.idGenerator()
		if err != nil {
			return nil, fmt.Errorf("generate user handle: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	wUser := &webauthnUser{email: normalized, handle: handle, credentials: credentials}
	residentKey := true
	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			RequireResidentKey:      &residentKey,
			ResidentKey:             protocol.ResidentKeyRequirementRequired,
			UserVerification:        protocol.VerificationRequired,
		}),
	}
	if len(credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(credentials).CredentialDescriptors()))
	}

	creation, session, err := e.provider.BeginRegistration(wUser, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "begin registration", err)
	}

	raw, err := decodeChallenge(session.Challenge)
	if err != nil {
		return nil, err
	}
	_, err = e.stores.Challenges.StoreChallenge(ctx, storage.Challenge{
		Challenge:  raw,
		UserID:     userID,
		UserHandle: handle,
		Email:      normalized,
		Type:       passkey.ChallengeTypeRegistration,
		ExpiresAt:  now.Add(e.config.ChallengeTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "store challenge", err)
	}
	return creation, nil
}

// VerifyRegistration validates an attestation response against its stored
// challenge and commits the resulting identity in one transaction. The
// challenge is consumed before validation, so a failed attestation still
// burns it.
func (e *Engine) VerifyRegistration(ctx context.Context, response RegistrationResponse) (user.User, passkey.Credential, error) {
	normalized, err := user.NormalizeEmail(response.Email)
	if err != nil {
		return user.User{}, passkey.Credential{}, err
	}
	now := e.clock()

	payload, err := creationResponseJSON(response)
	if err != nil {
		return user.User{}, passkey.Credential{}, err
	}
	parsed, err := e.parser.ParseCredentialCreationResponseBytes(payload)
	if err != nil {
		return user.User{}, passkey.Credential{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential response", err)
	}

	raw, err := decodeChallenge(parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return user.User{}, passkey.Credential{}, err
	}
	challenge, err := e.stores.Challenges.ConsumeChallenge(ctx, raw, now)
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return user.User{}, passkey.Credential{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found or expired")
	}
	if err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("consume challenge: %w", err)
	}
	if challenge.Type != passkey.ChallengeTypeRegistration || challenge.Email != normalized {
		return user.User{}, passkey.Credential{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge not found or expired")
	}

	wUser := &webauthnUser{email: normalized, handle: challenge.UserHandle}
	session := webauthn.SessionData{
		Challenge:        parsed.Response.CollectedClientData.Challenge,
		UserID:           []byte(challenge.UserHandle),
		Expires:          challenge.ExpiresAt,
		UserVerification: protocol.VerificationRequired,
	}
	credential, err := e.provider.CreateCredential(wUser, session, parsed)
	if err != nil {
		return user.User{}, passkey.Credential{}, apperrors.Wrap(apperrors.CodeAttestationFailed, "attestation verification failed", err)
	}

	stored := passkey.FromWebAuthn(*credential, response.DeviceName)
	stored.CreatedAt = now

	input := storage.NewPasskeyIdentity{
		DeviceName: response.DeviceName,
		Credential: stored,
	}
	if challenge.UserID != nil {
		input.ExistingUserID = *challenge.UserID
	} else {
		input.User = &user.User{
			Email:      normalized,
			ExternalID: challenge.UserHandle,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	owner, created, err := e.stores.Registrations.CreatePasskeyIdentity(ctx, input)
	if err == storage.ErrDuplicate {
		return user.User{}, passkey.Credential{}, apperrors.New(apperrors.CodeInvalidArgument, "credential already registered")
	}
	if err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("commit registration: %w", err)
	}
	return owner, created, nil
}

func creationResponseJSON(response RegistrationResponse) ([]byte, error) {
	if response.CredentialID == "" || response.AttestationObject == "" || response.ClientDataJSON == "" {
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
			"attestationObject": response.AttestationObject,
			"clientDataJSON":    response.ClientDataJSON,
			"transports":        response.Transports,
		},
	}
	return json.Marshal(payload)
}
