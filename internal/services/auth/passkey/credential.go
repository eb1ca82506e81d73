package passkey

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Device type values reported to clients.
const (
	DeviceTypeSingle = "singleDevice"
	DeviceTypeMulti  = "multiDevice"
)

// Credential is a stored WebAuthn public-key credential, owned 1:1 by a
// passkey auth method. CredentialID is the authenticator's handle and is
// globally unique; Counter must never move backward across verified
// authentications.
type Credential struct {
	ID           int64
	AuthMethodID int64
	CredentialID []byte
	PublicKey    []byte
	Counter      uint32
	DeviceType   string
	BackedUp     bool
	Transports   []string
	DeviceName   string
	LastUsedAt   *time.Time
	Active       bool
	CreatedAt    time.Time
}

// ExternalID derives the auth-method external identifier for a credential.
// The raw credential ID is binary, so the link row stores it base64url.
func ExternalID(credentialID []byte) string {
	return base64.RawURLEncoding.EncodeToString(credentialID)
}

// FromWebAuthn builds a storable credential from a verified library credential.
func FromWebAuthn(cred webauthn.Credential, deviceName string) Credential {
	deviceType := DeviceTypeSingle
	if cred.Flags.BackupEligible {
		deviceType = DeviceTypeMulti
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, transport := range cred.Transport {
		transports = append(transports, string(transport))
	}
	return Credential{
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		DeviceType:   deviceType,
		BackedUp:     cred.Flags.BackupState,
		Transports:   transports,
		DeviceName:   deviceName,
		Active:       true,
	}
}

// WebAuthn converts the stored row back into the library's credential type
// for assertion verification.
func (c Credential) WebAuthn() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, transport := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return webauthn.Credential{
		ID:        c.CredentialID,
		PublicKey: c.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.DeviceType == DeviceTypeMulti,
			BackupState:    c.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: c.Counter,
		},
	}
}
