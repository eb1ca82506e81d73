package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeEmailRequired   Code = "EMAIL_REQUIRED"

	// Email verification errors
	CodeEmailAlreadyRegistered Code = "EMAIL_ALREADY_REGISTERED"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeCodeNotFound           Code = "VERIFICATION_CODE_NOT_FOUND"
	CodeCodeMismatch           Code = "VERIFICATION_CODE_MISMATCH"
	CodeTooManyAttempts        Code = "VERIFICATION_TOO_MANY_ATTEMPTS"
	CodeTokenExpired           Code = "VERIFICATION_TOKEN_EXPIRED"
	CodeTokenInvalid           Code = "VERIFICATION_TOKEN_INVALID"

	// Ceremony errors
	CodeChallengeNotFound Code = "CHALLENGE_NOT_FOUND"
	CodeAttestationFailed Code = "ATTESTATION_FAILED"
	CodeAssertionFailed   Code = "ASSERTION_FAILED"

	// Credential registry errors
	CodeCredentialNotFound Code = "CREDENTIAL_NOT_FOUND"
	CodePasskeyNotFound    Code = "PASSKEY_NOT_FOUND"
	CodeLastAuthMethod     Code = "LAST_AUTH_METHOD"
	CodeUserNotFound       Code = "USER_NOT_FOUND"

	// Session errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps an error code to the boundary's HTTP status contract.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument, CodeCodeNotFound, CodeCodeMismatch,
		CodeTooManyAttempts, CodeAttestationFailed:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeAssertionFailed, CodeUserNotFound:
		return http.StatusUnauthorized
	case CodeLastAuthMethod:
		return http.StatusForbidden
	case CodeCredentialNotFound, CodePasskeyNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeEmailAlreadyRegistered:
		return http.StatusConflict
	case CodeChallengeNotFound, CodeTokenExpired, CodeTokenInvalid, CodeEmailRequired:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
