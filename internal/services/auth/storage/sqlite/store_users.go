package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, external_id, active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`,
		u.Email, u.ExternalID, toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, storage.ErrDuplicate
		}
		return user.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return user.User{}, fmt.Errorf("insert user id: %w", err)
	}
	u.ID = id
	u.Active = true
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, external_id, active, created_at, updated_at
		FROM users WHERE id = ? AND active = 1`, userID)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, external_id, active, created_at, updated_at
		FROM users WHERE lower(email) = lower(?) AND active = 1`, email)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Email, &u.ExternalID, &u.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (s *Store) AddAuthMethod(ctx context.Context, m user.AuthMethod) (*user.AuthMethod, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode auth method metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_methods (user_id, auth_type, external_id, metadata, is_primary, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		m.UserID, m.Type, m.ExternalID, string(meta), m.IsPrimary, toMillis(m.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert auth method: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert auth method id: %w", err)
	}
	m.ID = id
	m.Active = true
	return &m, nil
}

func (s *Store) GetAuthMethodByExternalID(ctx context.Context, authType user.AuthType, externalID string) (user.AuthMethod, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, auth_type, external_id, metadata, is_primary, active, created_at
		FROM auth_methods
		WHERE auth_type = ? AND external_id = ? AND active = 1`,
		authType, externalID)
	return scanAuthMethod(row)
}

func (s *Store) ListAuthMethods(ctx context.Context, userID int64) ([]user.AuthMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, auth_type, external_id, metadata, is_primary, active, created_at
		FROM auth_methods
		WHERE user_id = ? AND active = 1
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list auth methods: %w", err)
	}
	defer rows.Close()

	var methods []user.AuthMethod
	for rows.Next() {
		m, err := scanAuthMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *Store) CountActiveAuthMethods(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM auth_methods WHERE user_id = ? AND active = 1`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count auth methods: %w", err)
	}
	return count, nil
}

func scanAuthMethod(row rowScanner) (user.AuthMethod, error) {
	var m user.AuthMethod
	var meta string
	var createdAt int64
	err := row.Scan(&m.ID, &m.UserID, &m.Type, &m.ExternalID, &meta, &m.IsPrimary, &m.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.AuthMethod{}, storage.ErrNotFound
	}
	if err != nil {
		return user.AuthMethod{}, fmt.Errorf("scan auth method: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return user.AuthMethod{}, fmt.Errorf("decode auth method metadata: %w", err)
		}
	}
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// HasActiveSubscription reads the subscription flag recorded for the user by
// the billing pipeline.
func (s *Store) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_params WHERE user_id = ? AND param = 'subscription_active'`,
		userID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read subscription param: %w", err)
	}
	return value == "1" || value == "true", nil
}

// SetSubscriptionActive records the subscription flag. The billing webhook
// handler owns this in production; tests use it directly.
func (s *Store) SetSubscriptionActive(ctx context.Context, userID int64, active bool) error {
	value := "0"
	if active {
		value = "1"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_params (user_id, param, value) VALUES (?, 'subscription_active', ?)
		ON CONFLICT (user_id, param) DO UPDATE SET value = excluded.value`,
		userID, value)
	if err != nil {
		return fmt.Errorf("write subscription param: %w", err)
	}
	return nil
}
