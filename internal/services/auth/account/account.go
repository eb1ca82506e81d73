// Package account exposes passkey management for signed-in users.
package account

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
)

// Service manages a user's registered passkeys.
type Service struct {
	credentials storage.PasskeyCredentialStore
	methods     storage.AuthMethodStore
	clock       func() time.Time
}

// NewService wires passkey management.
func NewService(credentials storage.PasskeyCredentialStore, methods storage.AuthMethodStore, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{credentials: credentials, methods: methods, clock: clock}
}

// ListPasskeys returns the user's active passkeys.
func (s *Service) ListPasskeys(ctx context.Context, userID int64) ([]passkey.Credential, error) {
	credentials, err := s.credentials.ListUserCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return credentials, nil
}

// DeletePasskey removes one of the user's passkeys. The user's last auth
// method cannot be removed; losing it would lock the account out entirely.
func (s *Service) DeletePasskey(ctx context.Context, userID int64, passkeyID int64) error {
	owned, err := s.credentials.ListUserCredentials(ctx, userID)
	if err != nil {
		return fmt.Errorf("list passkeys: %w", err)
	}
	found := false
	for _, c := range owned {
		if c.ID == passkeyID {
			found = true
			break
		}
	}
	if !found {
		return apperrors.New(apperrors.CodePasskeyNotFound, "passkey not found")
	}

	count, err := s.methods.CountActiveAuthMethods(ctx, userID)
	if err != nil {
		return fmt.Errorf("count auth methods: %w", err)
	}
	if count <= 1 {
		return apperrors.New(apperrors.CodeLastAuthMethod, "cannot remove the last sign-in method")
	}

	ok, err := s.credentials.DeactivatePasskey(ctx, userID, passkeyID)
	if err != nil {
		return fmt.Errorf("deactivate passkey: %w", err)
	}
	if !ok {
		return apperrors.New(apperrors.CodePasskeyNotFound, "passkey not found")
	}
	return nil
}

// RenamePasskey updates the display label on one of the user's passkeys.
func (s *Service) RenamePasskey(ctx context.Context, userID int64, passkeyID int64, deviceName string) error {
	if deviceName == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "device name is required")
	}
	ok, err := s.credentials.RenamePasskey(ctx, userID, passkeyID, deviceName)
	if err != nil {
		return fmt.Errorf("rename passkey: %w", err)
	}
	if !ok {
		return apperrors.New(apperrors.CodePasskeyNotFound, "passkey not found")
	}
	return nil
}
