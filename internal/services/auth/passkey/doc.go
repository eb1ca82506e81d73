// Package passkey models WebAuthn credentials and relying-party settings.
package passkey
