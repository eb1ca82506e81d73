// Package verification implements the email possession proof flow: short
// numeric codes delivered by mail, redeemed for a signed verification token
// that gates passkey registration.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/mailer"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// Service issues and checks email verification codes.
type Service struct {
	codes   storage.VerificationCodeStore
	users   storage.UserStore
	mailer  mailer.Mailer
	logger  *slog.Logger
	config  Config
	clock   func() time.Time
	genCode func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithCodeGenerator overrides code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.genCode = gen }
}

// NewService wires the verification flow.
func NewService(codes storage.VerificationCodeStore, users storage.UserStore, m mailer.Mailer, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		codes:   codes,
		users:   users,
		mailer:  m,
		logger:  logger,
		config:  cfg,
		clock:   time.Now,
		genCode: generateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendResult reports a successful code issuance.
type SendResult struct {
	ExpiresIn time.Duration
}

// SendCode issues a fresh code for email and mails it. An address already
// attached to an active account is rejected before any code is written, and
// issuance is capped per address inside the rolling rate window.
func (s *Service) SendCode(ctx context.Context, email string) (SendResult, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return SendResult{}, err
	}
	now := s.clock()

	_, err = s.users.GetUserByEmail(ctx, normalized)
	if err == nil {
		return SendResult{}, apperrors.New(apperrors.CodeEmailAlreadyRegistered, "email already registered")
	}
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		return SendResult{}, fmt.Errorf("lookup user: %w", err)
	}

	recent, err := s.codes.CountCodesSince(ctx, normalized, now.Add(-s.config.RateWindow))
	if err != nil {
		return SendResult{}, fmt.Errorf("count recent codes: %w", err)
	}
	if recent >= s.config.MaxCodesPerWindow {
		return SendResult{}, apperrors.New(apperrors.CodeRateLimited, "too many verification codes requested")
	}

	// Only the newest code is redeemable; superseded codes stay on record
	// for the rate window.
	if err := s.codes.SupersedeActiveCodes(ctx, normalized); err != nil {
		return SendResult{}, fmt.Errorf("supersede old codes: %w", err)
	}

	code, err := s.genCode()
	if err != nil {
		return SendResult{}, fmt.Errorf("generate code: %w", err)
	}
	_, err = s.codes.CreateCode(ctx, storage.VerificationCode{
		Email:     normalized,
		Code:      code,
		ExpiresAt: now.Add(s.config.CodeTTL),
		CreatedAt: now,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("store code: %w", err)
	}

	msg := mailer.Message{
		To:      normalized,
		Subject: "Your BookPlayer verification code",
		HTML:    codeEmailBody(code, s.config.CodeTTL),
	}
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		// Delivery problems must not reveal whether issuance succeeded.
		s.logger.Error("verification email delivery failed", "error", err)
	}

	return SendResult{ExpiresIn: s.config.CodeTTL}, nil
}

// CheckCode redeems a code and mints a verification token. Attempts are
// counted before comparison so a wrong guess always burns budget, and a code
// that has exhausted its budget is deleted without being compared.
func (s *Service) CheckCode(ctx context.Context, email, code string) (string, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	now := s.clock()

	rec, err := s.codes.LatestActiveCode(ctx, normalized, now)
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return "", apperrors.New(apperrors.CodeCodeNotFound, "no active verification code")
	}
	if err != nil {
		return "", fmt.Errorf("lookup code: %w", err)
	}

	if rec.Attempts >= s.config.MaxAttempts {
		if err := s.codes.DeleteCode(ctx, rec.ID); err != nil {
			return "", fmt.Errorf("delete exhausted code: %w", err)
		}
		return "", apperrors.New(apperrors.CodeTooManyAttempts, "too many attempts, request a new code")
	}

	attempts, err := s.codes.IncrementAttempts(ctx, rec.ID)
	if err != nil {
		return "", fmt.Errorf("record attempt: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		remaining := s.config.MaxAttempts - attempts
		if remaining <= 0 {
			return "", apperrors.New(apperrors.CodeCodeMismatch, "incorrect code, request a new code")
		}
		return "", apperrors.WithMetadata(apperrors.CodeCodeMismatch, "incorrect code", map[string]string{
			"remaining_attempts": fmt.Sprintf("%d", remaining),
		})
	}

	if err := s.codes.MarkVerified(ctx, rec.ID); err != nil {
		return "", fmt.Errorf("mark verified: %w", err)
	}
	return s.mintToken(normalized, now)
}

// CleanupExpired deletes codes whose TTL has lapsed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.codes.DeleteExpiredCodes(ctx, s.clock())
}

// generateCode draws a uniform 6 digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func codeEmailBody(code string, ttl time.Duration) string {
	return fmt.Sprintf(`<p>Your verification code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p>
<p>The code expires in %d minutes. If you did not request it, ignore this email.</p>`,
		code, int(ttl.Minutes()))
}
