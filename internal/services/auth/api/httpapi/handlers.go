package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/ceremony"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/identity"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

type sessionResponse struct {
	Token           string `json:"token"`
	Email           string `json:"email"`
	ExternalID      string `json:"external_id"`
	RevenueCatID    string `json:"revenuecat_id"`
	HasSubscription bool   `json:"has_subscription"`
}

func sessionJSON(s identity.Session) sessionResponse {
	return sessionResponse{
		Token:           s.Token,
		Email:           s.Email,
		ExternalID:      s.ExternalID,
		RevenueCatID:    s.RevenueCatID,
		HasSubscription: s.HasSubscription,
	}
}

type creationCredential struct {
	ID                string   `json:"id"`
	RawID             string   `json:"rawId"`
	Type              string   `json:"type"`
	AttestationObject string   `json:"attestationObject"`
	ClientDataJSON    string   `json:"clientDataJSON"`
	Transports        []string `json:"transports"`
}

type assertionCredential struct {
	ID                string `json:"id"`
	RawID             string `json:"rawId"`
	Type              string `json:"type"`
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJSON"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle"`
}

func (s *Server) handleEmailSend(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.verification.SendCode(r.Context(), request.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"expires_in": int(result.ExpiresIn / time.Second),
	})
}

func (s *Server) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	verificationToken, err := s.verification.CheckCode(r.Context(), request.Email, request.Code)
	if err != nil {
		s.writeVerifyError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"verified":           true,
		"verification_token": verificationToken,
	})
}

// registrationEmail resolves which email a registration request may act on.
// A signed-in caller registers against their own account; everyone else must
// present a verification token matching the requested address.
func (s *Server) registrationEmail(r *http.Request, email, verificationToken string) (string, error) {
	if claims, err := s.sessionClaims(r); err == nil {
		return claims.Email, nil
	}
	if verificationToken == "" {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "verification token is required")
	}
	if strings.TrimSpace(email) == "" {
		return "", apperrors.New(apperrors.CodeEmailRequired, "email is required")
	}
	verified, err := s.verification.ValidateToken(verificationToken)
	if err != nil {
		return "", err
	}
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(verified, normalized) {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "verification token does not match email")
	}
	return verified, nil
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email             string `json:"email"`
		VerificationToken string `json:"verification_token"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	email, err := s.registrationEmail(r, request.Email, request.VerificationToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	options, err := s.ceremony.RegistrationOptions(r.Context(), email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email             string             `json:"email"`
		VerificationToken string             `json:"verification_token"`
		DeviceName        string             `json:"device_name"`
		Credential        creationCredential `json:"credential"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	email, err := s.registrationEmail(r, request.Email, request.VerificationToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	owner, _, err := s.ceremony.VerifyRegistration(r.Context(), ceremony.RegistrationResponse{
		Email:             email,
		DeviceName:        request.DeviceName,
		CredentialID:      request.Credential.ID,
		RawID:             request.Credential.RawID,
		Type:              request.Credential.Type,
		AttestationObject: request.Credential.AttestationObject,
		ClientDataJSON:    request.Credential.ClientDataJSON,
		Transports:        request.Credential.Transports,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.identity.IssueSession(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	options, err := s.ceremony.AuthenticationOptions(r.Context(), request.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Credential assertionCredential `json:"credential"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	owner, err := s.ceremony.VerifyAuthentication(r.Context(), ceremony.AssertionResponse{
		CredentialID:      request.Credential.ID,
		RawID:             request.Credential.RawID,
		Type:              request.Credential.Type,
		AuthenticatorData: request.Credential.AuthenticatorData,
		ClientDataJSON:    request.Credential.ClientDataJSON,
		Signature:         request.Credential.Signature,
		UserHandle:        request.Credential.UserHandle,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.identity.IssueSession(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *Server) handleAppleSignIn(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Subject string `json:"subject"`
		Email   string `json:"email"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	session, err := s.identity.AppleSignIn(r.Context(), request.Subject, request.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionJSON(session))
}

type passkeyView struct {
	ID         int64  `json:"id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	BackedUp   bool   `json:"backed_up"`
	LastUsedAt *int64 `json:"last_used_at"`
	CreatedAt  int64  `json:"created_at"`
}

func passkeyJSON(c passkey.Credential) passkeyView {
	view := passkeyView{
		ID:         c.ID,
		DeviceName: c.DeviceName,
		DeviceType: c.DeviceType,
		BackedUp:   c.BackedUp,
		CreatedAt:  c.CreatedAt.UTC().UnixMilli(),
	}
	if c.LastUsedAt != nil {
		ms := c.LastUsedAt.UTC().UnixMilli()
		view.LastUsedAt = &ms
	}
	return view
}

func (s *Server) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		s.writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authorization required"))
		return
	}

	credentials, err := s.account.ListPasskeys(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]passkeyView, 0, len(credentials))
	for _, c := range credentials {
		views = append(views, passkeyJSON(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"passkeys": views})
}

func (s *Server) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		s.writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authorization required"))
		return
	}
	var request struct {
		PasskeyID int64 `json:"passkey_id"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.account.DeletePasskey(r.Context(), claims.UserID, request.PasskeyID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRenamePasskey(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		s.writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authorization required"))
		return
	}
	var request struct {
		PasskeyID  int64  `json:"passkey_id"`
		DeviceName string `json:"device_name"`
	}
	if err := decodeJSON(r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.account.RenamePasskey(r.Context(), claims.UserID, request.PasskeyID, request.DeviceName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
