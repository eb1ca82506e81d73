package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

func (s *Store) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (passkey.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, auth_method_id, credential_id, public_key, counter, device_type,
		       backed_up, transports, device_name, last_used_at, active, created_at
		FROM passkey_credentials
		WHERE credential_id = ? AND active = 1`, credentialID)
	return scanCredential(row)
}

func (s *Store) ListUserCredentials(ctx context.Context, userID int64) ([]passkey.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.auth_method_id, c.credential_id, c.public_key, c.counter, c.device_type,
		       c.backed_up, c.transports, c.device_name, c.last_used_at, c.active, c.created_at
		FROM passkey_credentials c
		JOIN auth_methods m ON m.id = c.auth_method_id
		WHERE m.user_id = ? AND m.active = 1 AND c.active = 1
		ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []passkey.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *Store) GetUserByCredentialID(ctx context.Context, credentialID []byte) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.external_id, u.active, u.created_at, u.updated_at
		FROM users u
		JOIN auth_methods m ON m.user_id = u.id
		JOIN passkey_credentials c ON c.auth_method_id = m.id
		WHERE c.credential_id = ? AND c.active = 1 AND m.active = 1 AND u.active = 1`,
		credentialID)
	return scanUser(row)
}

func (s *Store) UpdateCounter(ctx context.Context, credentialID []byte, counter uint32, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE passkey_credentials
		SET counter = max(counter, ?), last_used_at = ?
		WHERE credential_id = ? AND active = 1`,
		counter, toMillis(usedAt), credentialID)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update counter rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeactivatePasskey(ctx context.Context, userID int64, passkeyID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	var authMethodID int64
	err = tx.QueryRowContext(ctx, `
		SELECT c.auth_method_id
		FROM passkey_credentials c
		JOIN auth_methods m ON m.id = c.auth_method_id
		WHERE c.id = ? AND m.user_id = ? AND c.active = 1 AND m.active = 1`,
		passkeyID, userID).Scan(&authMethodID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve passkey owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE passkey_credentials SET active = 0 WHERE id = ?`, passkeyID); err != nil {
		return false, fmt.Errorf("deactivate credential: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE auth_methods SET active = 0 WHERE id = ?`, authMethodID); err != nil {
		return false, fmt.Errorf("deactivate auth method: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit deactivate: %w", err)
	}
	return true, nil
}

func (s *Store) RenamePasskey(ctx context.Context, userID int64, passkeyID int64, deviceName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE passkey_credentials SET device_name = ?
		WHERE id = ? AND active = 1 AND auth_method_id IN (
			SELECT id FROM auth_methods WHERE user_id = ? AND active = 1
		)`, deviceName, passkeyID, userID)
	if err != nil {
		return false, fmt.Errorf("rename passkey: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename passkey rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreatePasskeyIdentity(ctx context.Context, input storage.NewPasskeyIdentity) (user.User, passkey.Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Rollback()

	owner := user.User{ID: input.ExistingUserID}
	if input.User != nil {
		u := *input.User
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (email, external_id, active, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)`,
			u.Email, u.ExternalID, toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return user.User{}, passkey.Credential{}, storage.ErrDuplicate
			}
			return user.User{}, passkey.Credential{}, fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return user.User{}, passkey.Credential{}, fmt.Errorf("insert user id: %w", err)
		}
		u.ID = id
		u.Active = true
		owner = u
	} else {
		row := tx.QueryRowContext(ctx, `
			SELECT id, email, external_id, active, created_at, updated_at
			FROM users WHERE id = ? AND active = 1`, input.ExistingUserID)
		owner, err = scanUser(row)
		if err != nil {
			return user.User{}, passkey.Credential{}, err
		}
	}

	cred := input.Credential
	externalID := passkey.ExternalID(cred.CredentialID)
	meta := "{}"
	if input.DeviceName != "" {
		b, err := json.Marshal(map[string]string{"device_name": input.DeviceName})
		if err != nil {
			return user.User{}, passkey.Credential{}, fmt.Errorf("encode method metadata: %w", err)
		}
		meta = string(b)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO auth_methods (user_id, auth_type, external_id, metadata, is_primary, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		owner.ID, user.AuthTypePasskey, externalID, meta, input.User != nil, toMillis(cred.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, passkey.Credential{}, storage.ErrDuplicate
		}
		return user.User{}, passkey.Credential{}, fmt.Errorf("insert auth method: %w", err)
	}
	methodID, err := res.LastInsertId()
	if err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("insert auth method id: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO passkey_credentials (auth_method_id, credential_id, public_key, counter,
			device_type, backed_up, transports, device_name, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		methodID, cred.CredentialID, cred.PublicKey, cred.Counter,
		cred.DeviceType, cred.BackedUp, strings.Join(cred.Transports, ","),
		input.DeviceName, toMillis(cred.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, passkey.Credential{}, storage.ErrDuplicate
		}
		return user.User{}, passkey.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	credID, err := res.LastInsertId()
	if err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("insert credential id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, passkey.Credential{}, fmt.Errorf("commit registration: %w", err)
	}

	cred.ID = credID
	cred.AuthMethodID = methodID
	cred.DeviceName = input.DeviceName
	cred.Active = true
	return owner, cred, nil
}

func scanCredential(row rowScanner) (passkey.Credential, error) {
	var c passkey.Credential
	var transports string
	var lastUsed sql.NullInt64
	var createdAt int64
	err := row.Scan(&c.ID, &c.AuthMethodID, &c.CredentialID, &c.PublicKey, &c.Counter,
		&c.DeviceType, &c.BackedUp, &transports, &c.DeviceName, &lastUsed, &c.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return passkey.Credential{}, storage.ErrNotFound
	}
	if err != nil {
		return passkey.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	if transports != "" {
		c.Transports = strings.Split(transports, ",")
	}
	if lastUsed.Valid {
		t := fromMillis(lastUsed.Int64)
		c.LastUsedAt = &t
	}
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}
