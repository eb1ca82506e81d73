// Package identity reconciles external identities with local accounts and
// issues sessions. It carries the legacy Sign in with Apple flow alongside
// passkey sign-ins so both converge on the same user rows.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/TortugaPower/bookplayer-api-sub000/internal/platform/errors"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/token"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

// Session is the signed-in state returned to clients.
type Session struct {
	Token           string
	Email           string
	ExternalID      string
	RevenueCatID    string
	HasSubscription bool
}

// Service resolves identities and mints sessions.
type Service struct {
	users         storage.UserStore
	methods       storage.AuthMethodStore
	subscriptions storage.SubscriptionStore
	issuer        *token.Issuer
	logger        *slog.Logger
	clock         func() time.Time
	idGenerator   func() (string, error)
}

// NewService wires identity resolution.
func NewService(users storage.UserStore, methods storage.AuthMethodStore, subscriptions storage.SubscriptionStore, issuer *token.Issuer, logger *slog.Logger, clock func() time.Time, idGenerator func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		users:         users,
		methods:       methods,
		subscriptions: subscriptions,
		issuer:        issuer,
		logger:        logger,
		clock:         clock,
		idGenerator:   idGenerator,
	}
}

// AppleSignIn resolves an Apple subject to a local account, creating the
// account or the method link as needed, and issues a session. Matching runs
// subject first so an email change on the Apple side does not fork accounts.
func (s *Service) AppleSignIn(ctx context.Context, subject, email string) (Session, error) {
	if subject == "" {
		return Session{}, apperrors.New(apperrors.CodeInvalidArgument, "apple subject is required")
	}

	method, err := s.methods.GetAuthMethodByExternalID(ctx, user.AuthTypeApple, subject)
	if err == nil {
		owner, err := s.users.GetUserByID(ctx, method.UserID)
		if err != nil {
			return Session{}, fmt.Errorf("lookup linked user: %w", err)
		}
		return s.IssueSession(ctx, owner)
	}
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		return Session{}, fmt.Errorf("lookup apple method: %w", err)
	}

	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return Session{}, err
	}

	owner, err := s.users.GetUserByEmail(ctx, normalized)
	switch {
	case err == nil:
		// Existing account signed up another way; attach the Apple link.
	case apperrors.GetCode(err) == apperrors.CodeNotFound:
		now := s.clock()
		created, err := user.NewUser(normalized, subject, func() time.Time { return now }, s.idGenerator)
		if err != nil {
			return Session{}, err
		}
		owner, err = s.users.CreateUser(ctx, created)
		if err == storage.ErrDuplicate {
			// Lost a race with a concurrent sign-in for the same address.
			owner, err = s.users.GetUserByEmail(ctx, normalized)
		}
		if err != nil {
			return Session{}, fmt.Errorf("create user: %w", err)
		}
	default:
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	added, err := s.methods.AddAuthMethod(ctx, user.AuthMethod{
		UserID:     owner.ID,
		Type:       user.AuthTypeApple,
		ExternalID: subject,
		IsPrimary:  true,
		CreatedAt:  s.clock(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("link apple method: %w", err)
	}
	if added == nil {
		// The subject got linked concurrently; resolve through the winner.
		existing, err := s.methods.GetAuthMethodByExternalID(ctx, user.AuthTypeApple, subject)
		if err != nil {
			return Session{}, fmt.Errorf("resolve concurrent link: %w", err)
		}
		owner, err = s.users.GetUserByID(ctx, existing.UserID)
		if err != nil {
			return Session{}, fmt.Errorf("lookup linked user: %w", err)
		}
	}

	return s.IssueSession(ctx, owner)
}

// IssueSession mints a session for u with its billing identity attached.
// The RevenueCat id is the Apple subject when one is linked, since legacy
// subscriptions were keyed on it before passkeys existed.
func (s *Service) IssueSession(ctx context.Context, u user.User) (Session, error) {
	sessionToken, err := s.issuer.Generate(u)
	if err != nil {
		return Session{}, err
	}

	revenueCatID := u.ExternalID
	methods, err := s.methods.ListAuthMethods(ctx, u.ID)
	if err != nil {
		return Session{}, fmt.Errorf("list auth methods: %w", err)
	}
	for _, m := range methods {
		if m.Type == user.AuthTypeApple {
			revenueCatID = m.ExternalID
			break
		}
	}

	hasSubscription, err := s.subscriptions.HasActiveSubscription(ctx, u.ID)
	if err != nil {
		// Sign-in proceeds without a billing flag when the lookup fails.
		s.logger.Error("subscription lookup failed", "error", err, "user_id", u.ID)
		hasSubscription = false
	}

	return Session{
		Token:           sessionToken,
		Email:           u.Email,
		ExternalID:      u.ExternalID,
		RevenueCatID:    revenueCatID,
		HasSubscription: hasSubscription,
	}, nil
}
