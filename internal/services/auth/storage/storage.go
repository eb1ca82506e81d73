package storage

import (
	"context"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing or inactive.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicate indicates an insert hit a uniqueness constraint.
var ErrDuplicate = errors.New(errors.CodeInternal, "record already exists")

// UserStore persists identity rows. Lookups return active users only.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUserByID(ctx context.Context, userID int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// AuthMethodStore persists the user→mechanism links.
type AuthMethodStore interface {
	// AddAuthMethod inserts a method or returns nil with no error when the
	// (auth_type, external_id) pair is already claimed by an active row, so
	// callers can fall back to lookup semantics instead of duplicating
	// accounts.
	AddAuthMethod(ctx context.Context, m user.AuthMethod) (*user.AuthMethod, error)
	GetAuthMethodByExternalID(ctx context.Context, authType user.AuthType, externalID string) (user.AuthMethod, error)
	ListAuthMethods(ctx context.Context, userID int64) ([]user.AuthMethod, error)
	CountActiveAuthMethods(ctx context.Context, userID int64) (int, error)
}

// PasskeyCredentialStore persists WebAuthn credentials and their joins.
type PasskeyCredentialStore interface {
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (passkey.Credential, error)
	ListUserCredentials(ctx context.Context, userID int64) ([]passkey.Credential, error)
	// GetUserByCredentialID resolves the owning user through the
	// credential→auth-method→user join, requiring every link to be active.
	GetUserByCredentialID(ctx context.Context, credentialID []byte) (user.User, error)
	// UpdateCounter stores the counter reported by a verified assertion and
	// stamps the last-used time. The stored value never moves backward.
	UpdateCounter(ctx context.Context, credentialID []byte, counter uint32, usedAt time.Time) error
	// DeactivatePasskey soft-deletes the credential and its owning auth
	// method when the credential belongs to userID. Returns false when the
	// row is missing or owned by someone else.
	DeactivatePasskey(ctx context.Context, userID int64, passkeyID int64) (bool, error)
	// RenamePasskey updates the display label. Returns false when the row is
	// missing or owned by someone else.
	RenamePasskey(ctx context.Context, userID int64, passkeyID int64, deviceName string) (bool, error)
}

// NewPasskeyIdentity is the transactional payload for registration commit.
// When User is nil the credential attaches to ExistingUserID; otherwise the
// user row is created inside the same transaction.
type NewPasskeyIdentity struct {
	User           *user.User
	ExistingUserID int64
	DeviceName     string
	Credential     passkey.Credential
}

// RegistrationStore commits a passkey registration atomically: user (when
// new), auth method, and credential all persist or none do.
type RegistrationStore interface {
	CreatePasskeyIdentity(ctx context.Context, input NewPasskeyIdentity) (user.User, passkey.Credential, error)
}

// Challenge is a one-time ceremony nonce. UserHandle carries the WebAuthn
// user handle issued at options time so verification can rebuild the session
// for users that do not exist yet.
type Challenge struct {
	ID         int64
	Challenge  []byte
	UserID     *int64
	UserHandle string
	Email      string
	Type       passkey.ChallengeType
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// ChallengeStore persists ceremony nonces. Challenge values are unique; a
// collision surfaces as an error rather than an overwrite.
type ChallengeStore interface {
	StoreChallenge(ctx context.Context, challenge Challenge) (int64, error)
	// ConsumeChallenge returns the unexpired row matching value and deletes
	// it in the same statement scope, so two concurrent consumers resolve to
	// exactly one winner. Missing and expired rows are both ErrNotFound.
	ConsumeChallenge(ctx context.Context, value []byte, now time.Time) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// VerificationCode is a short-lived mailbox possession proof.
type VerificationCode struct {
	ID         int64
	Email      string
	Code       string
	ExpiresAt  time.Time
	Verified   bool
	Superseded bool
	Attempts   int
	CreatedAt  time.Time
}

// VerificationCodeStore persists email verification codes.
type VerificationCodeStore interface {
	CreateCode(ctx context.Context, code VerificationCode) (VerificationCode, error)
	// LatestActiveCode returns the most recently created unverified,
	// unsuperseded, unexpired code for email.
	LatestActiveCode(ctx context.Context, email string, now time.Time) (VerificationCode, error)
	// CountCodesSince counts every code (verified and superseded included)
	// created for email at or after since; the rolling rate limit reads this.
	CountCodesSince(ctx context.Context, email string, since time.Time) (int, error)
	// SupersedeActiveCodes marks prior unverified codes for email as
	// superseded. Superseded rows are no longer redeemable but still count
	// toward the rate window.
	SupersedeActiveCodes(ctx context.Context, email string) error
	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, codeID int64) (int, error)
	MarkVerified(ctx context.Context, codeID int64) error
	DeleteCode(ctx context.Context, codeID int64) error
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// SubscriptionStore reads subscription state recorded by the billing webhook
// pipeline, consumed here as a boolean only.
type SubscriptionStore interface {
	HasActiveSubscription(ctx context.Context, userID int64) (bool, error)
}
