// Package auth defines the passwordless identity boundary of the backend.
//
// It owns the full credential lifecycle: email-verification gating, WebAuthn
// passkey ceremonies, the legacy Sign in with Apple path, and session token
// issuance, so callers depend on stable user identities instead of
// re-implementing authentication rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/httpapi: HTTP JSON handlers and status-code mapping
//   - ceremony: WebAuthn registration and authentication ceremonies
//   - verification: one-time email codes and email-proof tokens
//   - account: passkey management and the last-auth-method safety invariant
//   - identity: Apple-subject reconciliation and billing-identity bridging
//   - token: session bearer tokens
//   - storage: persistence interfaces and the SQLite implementation
//   - user, passkey: domain models
package auth
